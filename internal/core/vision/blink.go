package vision

import (
	"fmt"
	"image"
	"math"

	"smart-attend-go/internal/config"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// BlinkMethod benennt die Methode, die ein Blinzel-Urteil geliefert hat
type BlinkMethod string

const (
	MethodLandmark BlinkMethod = "landmark"
	MethodCascade  BlinkMethod = "cascade"
	MethodTemporal BlinkMethod = "temporal"
)

// BlinkEvent ist das Ergebnis einer Blinzel-Beobachtung für einen Frame
type BlinkEvent struct {
	Blink  bool        `json:"blink"`
	Method BlinkMethod `json:"method"`
	Label  string      `json:"label"`
}

// BlinkState ist der pro Track fortgeschriebene Zustand der Blinzelerkennung.
// Er wird beim ersten Sichten eines Tracks angelegt und mit ihm abgebaut.
type BlinkState struct {
	ConsecutiveClosedFrames int  `json:"consecutive_closed_frames"`
	TotalBlinkCount         int  `json:"total_blink_count"`
	IsCurrentlyBlinking     bool `json:"is_currently_blinking"`
}

// LandmarksPerEye ist die erwartete Punktanzahl pro Auge
const LandmarksPerEye = 6

// EyeLandmarks enthält die optionalen 6-Punkt-Augenkonturen eines Frames
// (p1..p6 im Uhrzeigersinn, horizontale Ecken bei p1/p4)
type EyeLandmarks struct {
	Left  []image.Point `json:"left"`
	Right []image.Point `json:"right"`
}

// BlinkDetector orchestriert die drei Erkennungsmethoden in fester
// Rückfallreihenfolge: Landmarken, Kaskade+Kontur, temporale Lebendprüfung.
// Jede Methode meldet explizit, ob sie verfügbar war; ein negatives Urteil
// fällt zur nächsten Methode durch, nur ein positives gewinnt sofort.
type BlinkDetector struct {
	cfg  config.BlinkConfig
	eyes *EyeAnalyzer

	cascade       *gocv.CascadeClassifier
	cascadeLogged bool
}

// NewBlinkDetector erstellt einen neuen Detektor. Die Augen-Kaskade wird
// beim Start geladen; schlägt das fehl, bleibt die Kaskadenmethode für den
// gesamten Lauf unverfügbar (einmalig geloggt, nicht pro Frame).
func NewBlinkDetector(cfg config.BlinkConfig, eyeCfg config.EyeConfig, eyes *EyeAnalyzer) *BlinkDetector {
	d := &BlinkDetector{cfg: cfg, eyes: eyes}

	if eyeCfg.CascadeFile != "" {
		cascade := gocv.NewCascadeClassifier()
		if cascade.Load(eyeCfg.CascadeFile) {
			d.cascade = &cascade
			log.Infof("Eye cascade loaded from %s", eyeCfg.CascadeFile)
		} else {
			cascade.Close()
			log.Warnf("Eye cascade %s could not be loaded, cascade method unavailable", eyeCfg.CascadeFile)
			d.cascadeLogged = true
		}
	}

	return d
}

// Close gibt die Ressourcen des Detektors frei
func (d *BlinkDetector) Close() {
	if d.cascade != nil {
		d.cascade.Close()
		d.cascade = nil
	}
}

// Observe wertet einen Gesichts-Frame aus und aktualisiert den übergebenen
// Track-Zustand. Das zuvor berechnete Lebend-Urteil fließt in die letzte
// Methode ein. Ein einzelner fehlerhafter Frame bricht niemals die Schleife
// ab: jede Methode degradiert bei internem Fehlschlag zur nächsten.
func (d *BlinkDetector) Observe(st *BlinkState, face gocv.Mat, landmarks *EyeLandmarks, live LivenessResult) BlinkEvent {
	gray, owned := ensureGray(face)
	if owned {
		defer gray.Close()
	}

	// Methode 1: Landmarken (EAR), nur wenn Geometrie mitgeliefert wurde
	if event, ok := d.observeLandmark(st, landmarks); ok {
		if event.Blink {
			return event
		}
		// negatives Urteil: weiter zur nächsten Methode
	}

	// Methode 2: Augen-Kaskade + Konturanalyse
	if event, ok := d.observeCascade(st, gray); ok {
		if event.Blink {
			return event
		}
	}

	// Methode 3: temporale Lebendprüfung, immer verfügbar
	return d.observeTemporal(st, gray, live)
}

// observeLandmark setzt die EAR-basierte Erkennung um. Ein Blinzeln wird
// erst nach ConsecutiveFrames Frames unterhalb der Schwelle gemeldet
// (Entprellung gegen Einzelframe-Rauschen) und feuert danach in jedem
// weiteren Frame erneut, solange das Auge geschlossen bleibt.
func (d *BlinkDetector) observeLandmark(st *BlinkState, landmarks *EyeLandmarks) (BlinkEvent, bool) {
	if landmarks == nil || len(landmarks.Left) != 6 || len(landmarks.Right) != 6 {
		return BlinkEvent{}, false
	}

	leftEAR := eyeAspectRatio(landmarks.Left)
	rightEAR := eyeAspectRatio(landmarks.Right)
	ear := (leftEAR + rightEAR) / 2.0

	if ear < d.cfg.EARThreshold {
		st.ConsecutiveClosedFrames++
		if st.ConsecutiveClosedFrames >= d.cfg.ConsecutiveFrames {
			st.TotalBlinkCount++
			st.IsCurrentlyBlinking = true
			return BlinkEvent{
				Blink:  true,
				Method: MethodLandmark,
				Label:  fmt.Sprintf("Blink detected (landmark) (%d)", st.TotalBlinkCount),
			}, true
		}
		return BlinkEvent{Method: MethodLandmark, Label: "Eyes closing (landmark)"}, true
	}

	st.ConsecutiveClosedFrames = 0
	st.IsCurrentlyBlinking = false
	return BlinkEvent{Method: MethodLandmark, Label: "Eyes open (landmark)"}, true
}

// observeCascade sucht Augenboxen per Haar-Kaskade und stimmt mit der
// lockeren Konturanalyse ab. Mindestens zwei Augenregionen und eine
// Mehrheit "geschlossen" sind nötig.
func (d *BlinkDetector) observeCascade(st *BlinkState, gray gocv.Mat) (BlinkEvent, bool) {
	if d.cascade == nil {
		if !d.cascadeLogged {
			log.Warn("Cascade blink method unavailable, skipping")
			d.cascadeLogged = true
		}
		return BlinkEvent{}, false
	}
	if gray.Empty() {
		return BlinkEvent{}, false
	}

	rects := d.cascade.DetectMultiScaleWithParams(gray, 1.1, 5, 0,
		image.Pt(20, 20), image.Pt(0, 0))
	if len(rects) < 2 {
		return BlinkEvent{Method: MethodCascade, Label: "Eyes open (cascade)"}, true
	}

	closed := 0
	bounds := image.Rect(0, 0, gray.Cols(), gray.Rows())
	for _, r := range rects {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}
		region := gray.Region(r)
		if d.eyes.IsClosedLoose(region) {
			closed++
		}
		region.Close()
	}

	if closed*2 > len(rects) {
		st.TotalBlinkCount++
		st.IsCurrentlyBlinking = true
		return BlinkEvent{
			Blink:  true,
			Method: MethodCascade,
			Label:  fmt.Sprintf("Blink detected (cascade) (%d)", st.TotalBlinkCount),
		}, true
	}

	return BlinkEvent{Method: MethodCascade, Label: "Eyes open (cascade)"}, true
}

// observeTemporal nutzt das Lebend-Urteil: nur ein lebendes Gesicht kann
// blinzeln, ein statisches Bild nicht. Bei Lebend-Befund müssen beide festen
// Augenregionen streng als geschlossen eingestuft werden.
func (d *BlinkDetector) observeTemporal(st *BlinkState, gray gocv.Mat, live LivenessResult) BlinkEvent {
	if !live.IsLive {
		st.IsCurrentlyBlinking = false
		return BlinkEvent{Method: MethodTemporal, Label: live.Reason}
	}
	if gray.Empty() {
		st.IsCurrentlyBlinking = false
		return BlinkEvent{Method: MethodTemporal, Label: "Eyes open (live)"}
	}

	leftRect, rightRect := EyeRects(gray.Cols(), gray.Rows())
	bounds := image.Rect(0, 0, gray.Cols(), gray.Rows())

	leftClosed := d.analyzeRegion(gray, leftRect.Intersect(bounds))
	rightClosed := d.analyzeRegion(gray, rightRect.Intersect(bounds))

	if leftClosed && rightClosed {
		st.TotalBlinkCount++
		st.IsCurrentlyBlinking = true
		return BlinkEvent{
			Blink:  true,
			Method: MethodTemporal,
			Label:  fmt.Sprintf("Live blink detected (%s) (%d)", live.Reason, st.TotalBlinkCount),
		}
	}

	st.IsCurrentlyBlinking = false
	return BlinkEvent{Method: MethodTemporal, Label: fmt.Sprintf("Eyes open (%s)", live.Reason)}
}

// analyzeRegion wendet die strenge Analyse auf ein Teilrechteck an;
// ein leeres Rechteck gilt als offen
func (d *BlinkDetector) analyzeRegion(gray gocv.Mat, rect image.Rectangle) bool {
	if rect.Empty() {
		return false
	}
	region := gray.Region(rect)
	defer region.Close()
	return d.eyes.IsClosed(region)
}

// eyeAspectRatio berechnet das Augen-Seitenverhältnis nach der
// 6-Punkt-Konvention: EAR = (|p2-p6| + |p3-p5|) / (2*|p1-p4|)
func eyeAspectRatio(eye []image.Point) float64 {
	a := pointDist(eye[1], eye[5])
	b := pointDist(eye[2], eye[4])
	c := pointDist(eye[0], eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

// pointDist liefert die euklidische Distanz zweier Punkte
func pointDist(p, q image.Point) float64 {
	return math.Hypot(float64(p.X-q.X), float64(p.Y-q.Y))
}

// ensureGray liefert eine Graustufenansicht des Frames. Das zweite Ergebnis
// gibt an, ob der Aufrufer die Mat schließen muss.
func ensureGray(m gocv.Mat) (gocv.Mat, bool) {
	if m.Empty() || m.Channels() == 1 {
		return m, false
	}
	gray := gocv.NewMat()
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	return gray, true
}
