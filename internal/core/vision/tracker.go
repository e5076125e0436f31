package vision

import (
	"image"
	"math"

	"smart-attend-go/internal/config"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Track ist die vorläufige Identität eines Gesichts über aufeinanderfolgende
// Frames, unabhängig von der erkannten Person. Frame-Verlauf und Blinzel-
// Zustand hängen am Track, nicht an der Reihenfolge der Detektor-Ausgabe.
type Track struct {
	ID      uuid.UUID
	Box     image.Rectangle
	History *FrameHistory
	Blink   BlinkState

	missedFrames int
}

// Tracker ordnet Detektor-Boxen über Frames hinweg stabilen Tracks zu.
// Zuordnung per IoU, mit Zentroid-Distanz als Rückfall; Tracks ohne Treffer
// verfallen nach MaxMissedFrames und geben ihre Frame-Kopien frei.
type Tracker struct {
	cfg             config.TrackerConfig
	historyCapacity int
	tracks          []*Track
}

// NewTracker erstellt einen neuen Tracker
func NewTracker(cfg config.TrackerConfig, historyCapacity int) *Tracker {
	return &Tracker{
		cfg:             cfg,
		historyCapacity: historyCapacity,
	}
}

// Associate ordnet die Boxen eines Frames bestehenden Tracks zu und legt für
// unzugeordnete Boxen neue Tracks an. Das Ergebnis ist positionsgleich zur
// Eingabe. Nicht getroffene Tracks altern und verfallen gegebenenfalls.
func (t *Tracker) Associate(boxes []image.Rectangle) []*Track {
	matched := make(map[*Track]bool, len(t.tracks))
	result := make([]*Track, len(boxes))

	for i, box := range boxes {
		best := t.bestMatch(box, matched)
		if best == nil {
			best = &Track{
				ID:      uuid.New(),
				History: NewFrameHistory(t.historyCapacity),
			}
			t.tracks = append(t.tracks, best)
			log.Debugf("New track %s at %v", best.ID, box)
		}
		best.Box = box
		best.missedFrames = 0
		matched[best] = true
		result[i] = best
	}

	// Nicht getroffene Tracks altern lassen und abgelaufene abbauen
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if matched[tr] {
			kept = append(kept, tr)
			continue
		}
		tr.missedFrames++
		if tr.missedFrames > t.cfg.MaxMissedFrames {
			log.Debugf("Track %s expired after %d missed frames", tr.ID, tr.missedFrames)
			tr.History.Close()
			continue
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	return result
}

// ActiveTracks gibt die Anzahl der aktuell geführten Tracks zurück
func (t *Tracker) ActiveTracks() int {
	return len(t.tracks)
}

// Close baut alle Tracks ab und gibt ihre Frame-Kopien frei
func (t *Tracker) Close() {
	for _, tr := range t.tracks {
		tr.History.Close()
	}
	t.tracks = nil
}

// bestMatch sucht den passendsten unbelegten Track für eine Box:
// erst höchste IoU oberhalb der Schwelle, sonst kleinste Zentroid-Distanz
// unterhalb der Maximaldistanz
func (t *Tracker) bestMatch(box image.Rectangle, matched map[*Track]bool) *Track {
	var best *Track
	bestIoU := t.cfg.IoUThreshold

	for _, tr := range t.tracks {
		if matched[tr] {
			continue
		}
		if overlap := iou(box, tr.Box); overlap >= bestIoU {
			bestIoU = overlap
			best = tr
		}
	}
	if best != nil {
		return best
	}

	bestDist := t.cfg.MaxCenterDist
	for _, tr := range t.tracks {
		if matched[tr] {
			continue
		}
		if d := centerDist(box, tr.Box); d <= bestDist {
			bestDist = d
			best = tr
		}
	}
	return best
}

// iou berechnet Intersection-over-Union zweier Rechtecke
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// centerDist berechnet die euklidische Distanz der Rechteck-Zentren
func centerDist(a, b image.Rectangle) float64 {
	ax := float64(a.Min.X+a.Max.X) / 2
	ay := float64(a.Min.Y+a.Max.Y) / 2
	bx := float64(b.Min.X+b.Max.X) / 2
	by := float64(b.Min.Y+b.Max.Y) / 2
	return math.Hypot(ax-bx, ay-by)
}
