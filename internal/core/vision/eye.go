package vision

import (
	"image"

	"smart-attend-go/internal/config"

	gocv "gocv.io/x/gocv"
)

// Feste Schwellenwerte der Konturanalyse
const (
	// Binarisierungsschwelle für die lockere Variante (roher Kaskaden-Pfad)
	looseThreshold = 45
	// Parameter der adaptiven Schwellwertbildung
	adaptiveBlockSize = 11
	adaptiveOffset    = 2
)

// EyeAnalyzer entscheidet per Kontur- und Schwellwertgeometrie, ob eine
// Augenregion geschlossen ist. Eine leere Region gilt immer als offen,
// damit schlechte Zuschnitte keine falschen Blinzler erzeugen.
type EyeAnalyzer struct {
	cfg config.EyeConfig
}

// NewEyeAnalyzer erstellt einen neuen Analyzer mit den konfigurierten Schwellenwerten
func NewEyeAnalyzer(cfg config.EyeConfig) *EyeAnalyzer {
	return &EyeAnalyzer{cfg: cfg}
}

// IsClosed prüft mit der strengen Variante, ob das Auge geschlossen ist.
// Otsu- und adaptives Schwellwertverfahren werden per UND kombiniert, damit
// nur Pixel übrig bleiben, die beide Methoden als Vordergrund einstufen.
// Fläche und Seitenverhältnis sind per ODER verknüpft: ein fast geschlossenes
// Auge zeigt oft nur noch einen kleinen runden Glanzpunkt statt eines breiten
// dunklen Flecks.
func (a *EyeAnalyzer) IsClosed(eye gocv.Mat) bool {
	if eye.Empty() || eye.Rows() == 0 || eye.Cols() == 0 {
		return false
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(eye, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	otsu := gocv.NewMat()
	defer otsu.Close()
	gocv.Threshold(blurred, &otsu, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	adaptive := gocv.NewMat()
	defer adaptive.Close()
	gocv.AdaptiveThreshold(blurred, &adaptive, 255, gocv.AdaptiveThresholdMean,
		gocv.ThresholdBinaryInv, adaptiveBlockSize, adaptiveOffset)

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.BitwiseAnd(otsu, adaptive, &combined)

	area, rect, found := largestContour(combined)
	if !found {
		return false
	}

	ratio := 0.0
	if rect.Dy() > 0 {
		ratio = float64(rect.Dx()) / float64(rect.Dy())
	}

	return area < a.cfg.StrictAreaMax || ratio < a.cfg.StrictRatioMax
}

// IsClosedLoose prüft mit der lockeren Variante (feste Schwelle, nur Fläche).
// Sie wird vom reinen Kaskaden-Pfad verwendet, der pro erkannter Augenbox
// einzeln abstimmt.
func (a *EyeAnalyzer) IsClosedLoose(eye gocv.Mat) bool {
	if eye.Empty() || eye.Rows() == 0 || eye.Cols() == 0 {
		return false
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(eye, &thresh, looseThreshold, 255, gocv.ThresholdBinaryInv)

	area, _, found := largestContour(thresh)
	if !found {
		return false
	}

	return area < a.cfg.LooseAreaMax
}

// largestContour sucht die flächengrößte Außenkontur in einer Binärmaske
func largestContour(mask gocv.Mat) (float64, image.Rectangle, bool) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return 0, image.Rectangle{}, false
	}

	bestArea := -1.0
	var bestRect image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area > bestArea {
			bestArea = area
			bestRect = gocv.BoundingRect(c)
		}
	}

	return bestArea, bestRect, true
}

// EyeRects liefert die beiden festen Augen-Teilrechtecke einer Gesichtsregion
// (linkes Auge x 10–45 %, rechtes Auge x 55–90 %, beide y 20–50 %).
func EyeRects(width, height int) (left, right image.Rectangle) {
	top := int(float64(height) * 0.2)
	bottom := int(float64(height) * 0.5)
	left = image.Rect(int(float64(width)*0.10), top, int(float64(width)*0.45), bottom)
	right = image.Rect(int(float64(width)*0.55), top, int(float64(width)*0.90), bottom)
	return left, right
}
