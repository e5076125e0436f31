package pipeline

import (
	"context"
	"encoding/json"
	"image"
	"sync"
	"time"

	"smart-attend-go/internal/config"
	"smart-attend-go/internal/core/models"
	"smart-attend-go/internal/core/vision"
	"smart-attend-go/internal/db/repository"
	"smart-attend-go/internal/server/sse"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// UnknownIdentity ist die Kennung für Gesichter unterhalb der
// Erkennungsschwelle
const UnknownIdentity = "Unknown"

// Detection ist die Eingabe des externen Detektors für ein Gesicht:
// Box, zugeschnittene Region, Identität samt Konfidenz und optional die
// 6-Punkt-Augenlandmarken
type Detection struct {
	Box        image.Rectangle
	Region     gocv.Mat
	Identity   string
	Name       string
	Confidence float64 // Prozent, höher = sicherer
	Landmarks  *vision.EyeLandmarks
}

// TrackVerdict ist das Urteil der Pipeline für einen Track in einem Frame
type TrackVerdict struct {
	TrackID         string  `json:"track_id"`
	Identity        string  `json:"identity"`
	Name            string  `json:"name"`
	Confidence      float64 `json:"confidence"`
	Recognized      bool    `json:"recognized"`
	Live            bool    `json:"live"`
	LivenessReason  string  `json:"liveness_reason"`
	MovementScore   float64 `json:"movement_score"`
	TextureVariance float64 `json:"texture_variance"`
	Blink           bool    `json:"blink"`
	BlinkMethod     string  `json:"blink_method"`
	BlinkLabel      string  `json:"blink_label"`
	BlinkCount      int     `json:"blink_count"`
}

// FrameResult fasst die Urteile eines kompletten Frames zusammen
type FrameResult struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Verdicts  []TrackVerdict `json:"verdicts"`
}

// Publisher schickt Pipeline-Ereignisse an ein externes System (z.B. MQTT).
// Ein nil-Publisher ist zulässig.
type Publisher interface {
	PublishVerdicts(result interface{})
}

// Pipeline führt die frame-synchrone Analyse aus: Zuordnung, Verlauf,
// Lebenderkennung, Blinzelerkennung. Eine Instanz pro Capture-Stream;
// der interne Mutex serialisiert lediglich mehrfädige Hosts, innerhalb
// eines Streams arbeitet die Pipeline strikt einfädig pro Frame.
type Pipeline struct {
	mu sync.Mutex

	cfg      *config.Config
	tracker  *vision.Tracker
	liveness *vision.LivenessClassifier
	blink    *vision.BlinkDetector
	hub      *sse.Hub
	repo     *repository.Repository
	pub      Publisher

	seq uint64
}

// New erstellt eine neue Pipeline mit allen Analysestufen
func New(cfg *config.Config, hub *sse.Hub, repo *repository.Repository, pub Publisher) *Pipeline {
	eyes := vision.NewEyeAnalyzer(cfg.Pipeline.Eye)
	return &Pipeline{
		cfg:      cfg,
		tracker:  vision.NewTracker(cfg.Pipeline.Tracker, vision.DefaultHistoryCapacity),
		liveness: vision.NewLivenessClassifier(cfg.Pipeline.Liveness),
		blink:    vision.NewBlinkDetector(cfg.Pipeline.Blink, cfg.Pipeline.Eye, eyes),
		hub:      hub,
		repo:     repo,
		pub:      pub,
	}
}

// ProcessFrame verarbeitet alle Detektionen eines Frames und liefert die
// Urteile. Kein Fehlerpfad einer Analysestufe bricht die Frame-Schleife ab;
// jede Stufe hat einen definierten Rückfallwert.
func (p *Pipeline) ProcessFrame(ctx context.Context, detections []Detection) (*FrameResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Kooperativer Abbruch, einmal pro Frame geprüft
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.seq++
	result := &FrameResult{
		Sequence:  p.seq,
		Timestamp: time.Now(),
		Verdicts:  make([]TrackVerdict, 0, len(detections)),
	}

	boxes := make([]image.Rectangle, len(detections))
	for i, det := range detections {
		boxes[i] = det.Box
	}
	tracks := p.tracker.Associate(boxes)

	for i, det := range detections {
		track := tracks[i]
		track.History.Push(det.Region)

		live := p.liveness.Classify(track.History)
		event := p.blink.Observe(&track.Blink, det.Region, det.Landmarks, live)

		recognized := det.Confidence >= p.cfg.Pipeline.RecognitionThreshold
		identity := det.Identity
		name := det.Name
		if !recognized {
			identity = UnknownIdentity
			name = UnknownIdentity
		}

		verdict := TrackVerdict{
			TrackID:         track.ID.String(),
			Identity:        identity,
			Name:            name,
			Confidence:      det.Confidence,
			Recognized:      recognized,
			Live:            live.IsLive,
			LivenessReason:  live.Reason,
			MovementScore:   live.MovementScore,
			TextureVariance: live.TextureVariance,
			Blink:           event.Blink,
			BlinkMethod:     string(event.Method),
			BlinkLabel:      event.Label,
			BlinkCount:      track.Blink.TotalBlinkCount,
		}
		result.Verdicts = append(result.Verdicts, verdict)

		p.persistVerdict(verdict, result.Timestamp, live)
	}

	if p.hub != nil {
		p.hub.Broadcast("frame_verdict", result)
	}
	if p.pub != nil {
		p.pub.PublishVerdicts(result)
	}

	return result, nil
}

// ActiveTracks gibt die Anzahl der aktuell geführten Tracks zurück
func (p *Pipeline) ActiveTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.ActiveTracks()
}

// Close gibt alle Ressourcen der Pipeline frei
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracker.Close()
	p.blink.Close()
}

// persistVerdict speichert ein Urteil samt Diagnosedaten; Fehler werden
// geloggt, aber nie in die Frame-Schleife propagiert
func (p *Pipeline) persistVerdict(v TrackVerdict, at time.Time, live vision.LivenessResult) {
	if p.repo == nil {
		return
	}

	details, err := json.Marshal(live)
	if err != nil {
		log.Errorf("Failed to marshal verdict details: %v", err)
		details = nil
	}

	event := models.VerdictEvent{
		TrackID:    v.TrackID,
		Identity:   v.Identity,
		Live:       v.Live,
		Blink:      v.Blink,
		Method:     v.BlinkMethod,
		ObservedAt: at,
		Details:    details,
	}
	if err := p.repo.SaveVerdict(&event); err != nil {
		log.Errorf("Failed to persist verdict event: %v", err)
	}
}
