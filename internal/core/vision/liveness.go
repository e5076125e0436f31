package vision

import (
	"fmt"
	"image"

	"smart-attend-go/internal/config"

	gocv "gocv.io/x/gocv"
)

// ReasonInsufficientFrames ist der neutrale Befund, solange der Verlauf noch
// nicht genug Frames für eine Aussage enthält. Er ist kein Betrugsverdacht.
const ReasonInsufficientFrames = "Insufficient frames"

// LivenessResult enthält das Ergebnis der Lebenderkennung für einen Frame
type LivenessResult struct {
	IsLive           bool    `json:"is_live"`
	Reason           string  `json:"reason"`
	MovementScore    float64 `json:"movement_score"`
	TextureVariance  float64 `json:"texture_variance"`
	LeftEyeMovement  float64 `json:"left_eye_movement"`
	RightEyeMovement float64 `json:"right_eye_movement"`
}

// LivenessClassifier entscheidet anhand des Frame-Verlaufs, ob ein Gesicht
// lebendig ist oder als statisches Foto eingestuft wird. Alle Signale sind
// deterministische Schwellwertregeln über klassische Bildstatistiken.
type LivenessClassifier struct {
	cfg config.LivenessConfig
}

// NewLivenessClassifier erstellt einen neuen Klassifikator
func NewLivenessClassifier(cfg config.LivenessConfig) *LivenessClassifier {
	return &LivenessClassifier{cfg: cfg}
}

// Classify wertet den Frame-Verlauf aus und liefert das Lebend-Urteil.
// Benötigt mindestens MinFrames Frames, sonst neutraler Befund.
func (c *LivenessClassifier) Classify(h *FrameHistory) LivenessResult {
	if h.Len() < c.cfg.MinFrames {
		return LivenessResult{IsLive: false, Reason: ReasonInsufficientFrames}
	}

	newest, err := h.Latest(1)
	if err != nil {
		return LivenessResult{IsLive: false, Reason: ReasonInsufficientFrames}
	}
	third, err := h.Latest(3)
	if err != nil {
		return LivenessResult{IsLive: false, Reason: ReasonInsufficientFrames}
	}

	// Bewegung: Differenz zum drittletzten Frame erfasst langsame Drift,
	// der Mittelwert der letzten vier Frame-zu-Frame-Differenzen erfasst
	// Zittern. Das Maximum beider Schätzer zählt.
	movement := meanAbsDiff(newest, third)
	if recent, ok := c.recentMovement(h); ok && recent > movement {
		movement = recent
	}

	// Textur: Varianz der Laplace-Antwort des neuesten Frames. Niedrige
	// Varianz deutet auf eine flache, unscharfe Oberfläche hin.
	texture := laplacianVariance(newest)

	// Temporale Augen-Deltas als Zusatzsignal für die Blinzelerkennung
	leftMove, rightMove := c.eyeMovement(newest, third)

	isStaticPhoto := movement < c.cfg.StaticMotionMax && texture > c.cfg.StaticTextureMin
	hasSomeMovement := movement > c.cfg.MotionMin
	isLive := !isStaticPhoto && hasSomeMovement

	reason := ""
	switch {
	case isLive:
		reason = c.reason("Live face", "Live", movement, texture)
	case isStaticPhoto:
		reason = c.reason("Static image detected", "Static", movement, texture)
	default:
		reason = c.reason("No movement detected", "Still", movement, texture)
	}

	// Sehr niedrige Textur wird als schlechte Beleuchtung auf einem echten
	// Gesicht gewertet: ein flach gedrucktes Foto unter gutem Licht zeigt
	// mehr Varianz als das.
	if !isLive && texture < c.cfg.LowTextureOverride {
		isLive = true
		reason = c.reason("Low texture, assuming poor lighting", "Low light", movement, texture)
	}

	return LivenessResult{
		IsLive:           isLive,
		Reason:           reason,
		MovementScore:    movement,
		TextureVariance:  texture,
		LeftEyeMovement:  leftMove,
		RightEyeMovement: rightMove,
	}
}

// recentMovement mittelt die vier aufeinanderfolgenden Frame-Differenzen
// über die letzten fünf Frames
func (c *LivenessClassifier) recentMovement(h *FrameHistory) (float64, bool) {
	if h.Len() < 5 {
		return 0, false
	}
	sum := 0.0
	for k := 1; k <= 4; k++ {
		a, errA := h.Latest(k)
		b, errB := h.Latest(k + 1)
		if errA != nil || errB != nil {
			return 0, false
		}
		sum += meanAbsDiff(a, b)
	}
	return sum / 4.0, true
}

// eyeMovement berechnet die mittlere absolute Differenz der beiden festen
// Augenregionen zwischen dem neuesten Frame und dem drei Frames zuvor
func (c *LivenessClassifier) eyeMovement(newest, third gocv.Mat) (left, right float64) {
	leftRect, rightRect := EyeRects(newest.Cols(), newest.Rows())

	left = regionDiff(newest, third, leftRect)
	right = regionDiff(newest, third, rightRect)
	return left, right
}

// reason formatiert den Begründungstext je nach Verbositätsmodus
func (c *LivenessClassifier) reason(verbose, terse string, movement, texture float64) string {
	if c.cfg.Verbose {
		return fmt.Sprintf("%s (movement: %.1f)", verbose, movement)
	}
	return fmt.Sprintf("%s (M:%.1f, T:%.0f)", terse, movement, texture)
}

// meanAbsDiff liefert die mittlere absolute Pixeldifferenz zweier Frames.
// Unterschiedlich große Zuschnitte werden vor dem Vergleich angeglichen,
// da Detektor-Boxen von Frame zu Frame leicht schwanken.
func meanAbsDiff(a, b gocv.Mat) float64 {
	diff := gocv.NewMat()
	defer diff.Close()

	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(b, &resized, image.Pt(a.Cols(), a.Rows()), 0, 0, gocv.InterpolationLinear)
		gocv.AbsDiff(a, resized, &diff)
	} else {
		gocv.AbsDiff(a, b, &diff)
	}

	return diff.Mean().Val1
}

// laplacianVariance liefert die Varianz der Laplace-Antwort eines Frames
func laplacianVariance(m gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(m, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	_, stdDev := lap.MeanStdDev()
	return stdDev.Val1 * stdDev.Val1
}

// regionDiff liefert die mittlere absolute Differenz eines Teilrechtecks
// zweier Frames; ein leeres Rechteck ergibt 0
func regionDiff(a, b gocv.Mat, rect image.Rectangle) float64 {
	rect = rect.Intersect(image.Rect(0, 0, a.Cols(), a.Rows()))
	rect = rect.Intersect(image.Rect(0, 0, b.Cols(), b.Rows()))
	if rect.Empty() {
		return 0
	}

	patchA := a.Region(rect)
	defer patchA.Close()
	patchB := b.Region(rect)
	defer patchB.Close()

	return meanAbsDiff(patchA, patchB)
}
