package crop

import (
	"image"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
)

func det(x, y, w, h int, conf float64) detect.Detection {
	return detect.Detection{
		Kind:       detect.KindFace,
		Box:        geometry.BoundingBox{X: x, Y: y, Width: w, Height: h},
		Confidence: conf,
	}
}

func TestSizeCrop(t *testing.T) {
	tests := []struct {
		name   string
		dims   geometry.Dimensions
		target geometry.AspectRatio
		wantW  int
		wantH  int
	}{
		{
			name:   "height limited on landscape image with portrait target",
			dims:   geometry.Dimensions{Width: 1000, Height: 800},
			target: geometry.AspectRatio{Width: 4, Height: 6},
			wantW:  533,
			wantH:  800,
		},
		{
			name:   "width limited on portrait image with landscape target",
			dims:   geometry.Dimensions{Width: 800, Height: 1200},
			target: geometry.AspectRatio{Width: 6, Height: 4},
			wantW:  800,
			wantH:  533,
		},
		{
			name:   "matching ratio keeps full image",
			dims:   geometry.Dimensions{Width: 400, Height: 600},
			target: geometry.AspectRatio{Width: 4, Height: 6},
			wantW:  400,
			wantH:  600,
		},
		{
			name:   "square target on landscape image",
			dims:   geometry.Dimensions{Width: 1000, Height: 600},
			target: geometry.AspectRatio{Width: 1, Height: 1},
			wantW:  600,
			wantH:  600,
		},
		{
			name:   "degenerate 1px tall image",
			dims:   geometry.Dimensions{Width: 1000, Height: 1},
			target: geometry.AspectRatio{Width: 4, Height: 6},
			wantW:  1,
			wantH:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := sizeCrop(tt.dims, tt.target)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.LessOrEqual(t, w, tt.dims.Width)
			assert.LessOrEqual(t, h, tt.dims.Height)
		})
	}
}

func TestDecidePeopleCentered(t *testing.T) {
	dims := geometry.Dimensions{Width: 1000, Height: 800}
	target := geometry.AspectRatio{Width: 4, Height: 6}
	result := detect.NewResult([]detect.Detection{det(400, 300, 200, 200, 0.9)})

	d := Decide(dims, result, target, Options{})

	assert.Equal(t, StrategyPeopleCentered, d.Strategy)
	assert.Equal(t, 533, d.CropArea.Width)
	assert.Equal(t, 800, d.CropArea.Height)
	// detection center is (500, 400); the crop centers on it horizontally
	assert.Equal(t, 234, d.CropArea.X)
	assert.Equal(t, 0, d.CropArea.Y)
	assert.InDelta(t, 0.9, d.CropArea.Confidence, 1e-9)
	assert.InDelta(t, 0.9, d.QualityScore, 1e-9)
}

func TestDecideClampsToImageEdges(t *testing.T) {
	dims := geometry.Dimensions{Width: 1000, Height: 800}
	target := geometry.AspectRatio{Width: 1, Height: 1}

	left := Decide(dims, detect.NewResult([]detect.Detection{det(0, 0, 50, 50, 0.8)}), target, Options{})
	assert.Equal(t, 0, left.CropArea.X)
	assert.Equal(t, 0, left.CropArea.Y)

	right := Decide(dims, detect.NewResult([]detect.Detection{det(950, 750, 50, 50, 0.8)}), target, Options{})
	assert.Equal(t, dims.Width-right.CropArea.Width, right.CropArea.X)
	assert.Equal(t, dims.Height-right.CropArea.Height, right.CropArea.Y)
}

func TestCenterOfMassFollowsConfidence(t *testing.T) {
	// two equal boxes, the right one twice as confident
	dets := []detect.Detection{
		det(100, 100, 100, 100, 0.3),
		det(700, 100, 100, 100, 0.6),
	}
	cx, cy := centerOfMass(dets)
	assert.InDelta(t, 550, cx, 1e-9) // (150*0.3 + 750*0.6) / 0.9
	assert.InDelta(t, 150, cy, 1e-9)
}

func TestCenterOfMassEmpty(t *testing.T) {
	cx, cy := centerOfMass(nil)
	assert.Zero(t, cx)
	assert.Zero(t, cy)
}

func TestFallbackCenter(t *testing.T) {
	dims := geometry.Dimensions{Width: 900, Height: 600}
	target := geometry.AspectRatio{Width: 1, Height: 1}

	d := Decide(dims, detect.Result{}, target, Options{Fallback: FallbackCenter})
	assert.Equal(t, StrategyCenter, d.Strategy)
	assert.Equal(t, 150, d.CropArea.X)
	assert.Equal(t, 0, d.CropArea.Y)
	assert.InDelta(t, FallbackConfidence, d.CropArea.Confidence, 1e-9)
	assert.InDelta(t, FallbackConfidence, d.QualityScore, 1e-9)
}

func TestFallbackRuleOfThirdsDiffersFromCenter(t *testing.T) {
	dims := geometry.Dimensions{Width: 1200, Height: 600}
	target := geometry.AspectRatio{Width: 1, Height: 2}

	center := Decide(dims, detect.Result{}, target, Options{Fallback: FallbackCenter})
	thirds := Decide(dims, detect.Result{}, target, Options{Fallback: FallbackRuleOfThirds})

	assert.Equal(t, StrategyRuleOfThirds, thirds.Strategy)
	assert.NotEqual(t, center.CropArea.X, thirds.CropArea.X)
	// thirds anchors on (400, 200); crop is 300x600 so x = 400-150
	assert.Equal(t, 250, thirds.CropArea.X)
	assert.Equal(t, 0, thirds.CropArea.Y)
}

func TestSmartDegradesToCenterWithoutImage(t *testing.T) {
	dims := geometry.Dimensions{Width: 800, Height: 600}
	target := geometry.AspectRatio{Width: 1, Height: 1}

	d := Decide(dims, detect.Result{}, target, Options{Fallback: FallbackSmart, Image: nil})
	assert.Equal(t, StrategyCenter, d.Strategy)
	assert.InDelta(t, FallbackConfidence, d.CropArea.Confidence, 1e-9)
}

func TestSmartFallbackIsDefault(t *testing.T) {
	dims := geometry.Dimensions{Width: 800, Height: 600}
	target := geometry.AspectRatio{Width: 1, Height: 1}

	// no fallback named and no pixels available still produces a crop
	d := Decide(dims, detect.Result{}, target, Options{})
	assert.Equal(t, StrategyCenter, d.Strategy)
	assert.Equal(t, 600, d.CropArea.Width)
	assert.Equal(t, 600, d.CropArea.Height)
}

func TestSmartUsesSaliencyWhenPixelsProvided(t *testing.T) {
	// uniform gray canvas with one bright region off to the right
	img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	draw.Draw(img, img.Bounds(), image.NewUniform(image.White), image.Point{}, draw.Src)
	dims := geometry.Dimensions{Width: 400, Height: 300}
	target := geometry.AspectRatio{Width: 1, Height: 1}

	d := Decide(dims, detect.Result{}, target, Options{Fallback: FallbackSmart, Image: img})
	require.Contains(t, []Strategy{StrategySmart, StrategyCenter}, d.Strategy)
	assert.GreaterOrEqual(t, d.CropArea.X, 0)
	assert.GreaterOrEqual(t, d.CropArea.Y, 0)
	assert.LessOrEqual(t, d.CropArea.X+d.CropArea.Width, dims.Width)
	assert.LessOrEqual(t, d.CropArea.Y+d.CropArea.Height, dims.Height)
	assert.InDelta(t, FallbackConfidence, d.CropArea.Confidence, 1e-9)
}

func TestQualityScoreTracksConfidence(t *testing.T) {
	dims := geometry.Dimensions{Width: 1000, Height: 800}
	target := geometry.AspectRatio{Width: 4, Height: 6}

	low := Decide(dims, detect.NewResult([]detect.Detection{det(400, 300, 100, 100, 0.3)}), target, Options{})
	high := Decide(dims, detect.NewResult([]detect.Detection{det(400, 300, 100, 100, 0.95)}), target, Options{})

	assert.Less(t, low.QualityScore, 0.5)
	assert.Greater(t, high.QualityScore, low.QualityScore)
}

func TestDecideBoxAlwaysWithinBounds(t *testing.T) {
	cases := []struct {
		dims   geometry.Dimensions
		target geometry.AspectRatio
		dets   []detect.Detection
	}{
		{geometry.Dimensions{Width: 100, Height: 3000}, geometry.AspectRatio{Width: 6, Height: 4}, []detect.Detection{det(10, 2900, 80, 80, 0.7)}},
		{geometry.Dimensions{Width: 5000, Height: 120}, geometry.AspectRatio{Width: 4, Height: 6}, []detect.Detection{det(4900, 0, 90, 90, 0.5)}},
		{geometry.Dimensions{Width: 640, Height: 480}, geometry.AspectRatio{Width: 1, Height: 1}, nil},
	}
	for _, c := range cases {
		d := Decide(c.dims, detect.NewResult(c.dets), c.target, Options{Fallback: FallbackCenter})
		assert.GreaterOrEqual(t, d.CropArea.X, 0)
		assert.GreaterOrEqual(t, d.CropArea.Y, 0)
		assert.LessOrEqual(t, d.CropArea.X+d.CropArea.Width, c.dims.Width)
		assert.LessOrEqual(t, d.CropArea.Y+d.CropArea.Height, c.dims.Height)
		assert.GreaterOrEqual(t, d.CropArea.Width, 1)
		assert.GreaterOrEqual(t, d.CropArea.Height, 1)
	}
}
