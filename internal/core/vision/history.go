package vision

import (
	"errors"

	gocv "gocv.io/x/gocv"
)

// DefaultHistoryCapacity ist die Standardgröße des Frame-Verlaufs
const DefaultHistoryCapacity = 10

// ErrOutOfRange wird zurückgegeben, wenn weniger Frames vorliegen als angefragt
var ErrOutOfRange = errors.New("vision: frame index out of range")

// FrameHistory hält ein rollierendes Fenster der letzten Graustufen-Frames
// einer Gesichtsregion. Einfügereihenfolge = zeitliche Reihenfolge, ältester
// Frame zuerst. Die Mats sind private Kopien und gehören dem Verlauf.
type FrameHistory struct {
	capacity int
	frames   []gocv.Mat
}

// NewFrameHistory erstellt einen neuen Frame-Verlauf mit der angegebenen Kapazität
func NewFrameHistory(capacity int) *FrameHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &FrameHistory{
		capacity: capacity,
		frames:   make([]gocv.Mat, 0, capacity),
	}
}

// Push hängt eine Graustufen-Kopie des Frames an den Verlauf an.
// Bei voller Kapazität wird der älteste Frame verdrängt und geschlossen.
func (h *FrameHistory) Push(frame gocv.Mat) {
	var gray gocv.Mat
	if frame.Channels() > 1 {
		gray = gocv.NewMat()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		gray = frame.Clone()
	}

	if len(h.frames) >= h.capacity {
		oldest := h.frames[0]
		h.frames = h.frames[1:]
		oldest.Close()
	}
	h.frames = append(h.frames, gray)
}

// Latest liefert den k-letzten Frame (1 = neuester). Die zurückgegebene Mat
// gehört weiterhin dem Verlauf und darf vom Aufrufer nicht geschlossen werden.
func (h *FrameHistory) Latest(k int) (gocv.Mat, error) {
	if k < 1 || k > len(h.frames) {
		return gocv.Mat{}, ErrOutOfRange
	}
	return h.frames[len(h.frames)-k], nil
}

// Len gibt die Anzahl der gespeicherten Frames zurück
func (h *FrameHistory) Len() int {
	return len(h.frames)
}

// Close gibt alle gespeicherten Frames frei
func (h *FrameHistory) Close() {
	for i := range h.frames {
		h.frames[i].Close()
	}
	h.frames = h.frames[:0]
}
