package vision

import (
	"testing"

	"smart-attend-go/internal/config"

	"github.com/stretchr/testify/assert"

	gocv "gocv.io/x/gocv"
)

func testLivenessConfig() config.LivenessConfig {
	return config.LivenessConfig{
		MinFrames:          5,
		StaticMotionMax:    0.05,
		StaticTextureMin:   150.0,
		MotionMin:          0.1,
		LowTextureOverride: 10.0,
	}
}

// pushUniform appends a flat frame with the given brightness.
func pushUniform(h *FrameHistory, value uint8) {
	frame := uniformMat(value, 64, 64)
	defer frame.Close()
	h.Push(frame)
}

// pushStriped appends a frame with alternating bright and dark columns,
// which carries a very high Laplacian response.
func pushStriped(h *FrameHistory) {
	frame := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC1)
	defer frame.Close()
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x += 2 {
			frame.SetUCharAt(y, x, 255)
		}
	}
	h.Push(frame)
}

func TestClassifyInsufficientFrames(t *testing.T) {
	c := NewLivenessClassifier(testLivenessConfig())
	h := NewFrameHistory(10)
	defer h.Close()

	for i := 0; i < 4; i++ {
		pushUniform(h, 100)

		result := c.Classify(h)
		assert.False(t, result.IsLive)
		assert.Equal(t, ReasonInsufficientFrames, result.Reason)
	}
}

func TestClassifyMovingFaceIsLive(t *testing.T) {
	c := NewLivenessClassifier(testLivenessConfig())
	h := NewFrameHistory(10)
	defer h.Close()

	// Brightness drifts by 6 per frame, so both motion estimators see
	// clear movement while the flat frames keep texture at zero.
	for _, v := range []uint8{10, 16, 22, 28, 34} {
		pushUniform(h, v)
	}

	result := c.Classify(h)
	assert.True(t, result.IsLive)
	assert.Contains(t, result.Reason, "Live")
	assert.InDelta(t, 12.0, result.MovementScore, 0.5)
	assert.InDelta(t, 0.0, result.TextureVariance, 1.0)
}

func TestClassifyStaticPhotoRejected(t *testing.T) {
	c := NewLivenessClassifier(testLivenessConfig())
	h := NewFrameHistory(10)
	defer h.Close()

	// Identical high-texture frames: zero motion, sharp detail. That is
	// the signature of a printed photo held still in front of the camera.
	for i := 0; i < 5; i++ {
		pushStriped(h)
	}

	result := c.Classify(h)
	assert.False(t, result.IsLive)
	assert.Contains(t, result.Reason, "Static")
	assert.InDelta(t, 0.0, result.MovementScore, 0.01)
	assert.Greater(t, result.TextureVariance, 150.0)
}

func TestClassifyLowTextureOverride(t *testing.T) {
	c := NewLivenessClassifier(testLivenessConfig())
	h := NewFrameHistory(10)
	defer h.Close()

	// Identical flat frames: no movement, but texture far below the
	// override threshold is treated as poor lighting, not as a photo.
	for i := 0; i < 5; i++ {
		pushUniform(h, 128)
	}

	result := c.Classify(h)
	assert.True(t, result.IsLive)
	assert.Contains(t, result.Reason, "Low")
}

func TestClassifyVerboseReason(t *testing.T) {
	cfg := testLivenessConfig()
	cfg.Verbose = true
	c := NewLivenessClassifier(cfg)
	h := NewFrameHistory(10)
	defer h.Close()

	for _, v := range []uint8{10, 16, 22, 28, 34} {
		pushUniform(h, v)
	}

	result := c.Classify(h)
	assert.Contains(t, result.Reason, "Live face (movement:")
}

func TestMeanAbsDiffResizesMismatchedCrops(t *testing.T) {
	a := uniformMat(100, 64, 64)
	defer a.Close()
	b := uniformMat(110, 60, 58)
	defer b.Close()

	assert.InDelta(t, 10.0, meanAbsDiff(a, b), 0.5)
}
