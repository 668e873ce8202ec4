package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAspectRatioOrientation(t *testing.T) {
	assert.Equal(t, Portrait, Ratio4x6.Orientation())
	assert.Equal(t, Landscape, Ratio16x9.Orientation())
	assert.Equal(t, Square, RatioSquare.Orientation())
}

func TestAspectRatioValidate(t *testing.T) {
	assert.NoError(t, Ratio5x7.Validate())
	assert.Error(t, AspectRatio{Width: 0, Height: 6}.Validate())
	assert.Error(t, AspectRatio{Width: 4, Height: -1}.Validate())
}

func TestDimensionsValidate(t *testing.T) {
	assert.NoError(t, Dimensions{Width: 1, Height: 1}.Validate())
	assert.Error(t, Dimensions{Width: 0, Height: 100}.Validate())
	assert.Error(t, Dimensions{Width: 100, Height: 0}.Validate())
}

func TestBoundingBoxCenter(t *testing.T) {
	cx, cy := BoundingBox{X: 400, Y: 300, Width: 200, Height: 200}.Center()
	assert.Equal(t, 500.0, cx)
	assert.Equal(t, 400.0, cy)

	// odd sizes land on half-pixel centers
	cx, cy = BoundingBox{X: 0, Y: 0, Width: 3, Height: 5}.Center()
	assert.Equal(t, 1.5, cx)
	assert.Equal(t, 2.5, cy)
}

func TestBoundingBoxFitsWithin(t *testing.T) {
	d := Dimensions{Width: 100, Height: 100}
	assert.True(t, BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}.FitsWithin(d))
	assert.True(t, BoundingBox{X: 10, Y: 10, Width: 50, Height: 50}.FitsWithin(d))
	assert.False(t, BoundingBox{X: 60, Y: 0, Width: 50, Height: 50}.FitsWithin(d))
	assert.False(t, BoundingBox{X: -1, Y: 0, Width: 10, Height: 10}.FitsWithin(d))
	assert.False(t, BoundingBox{X: 0, Y: 0, Width: 0, Height: 10}.FitsWithin(d))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5.0, Clamp(5, 0, 10))
	assert.Equal(t, 0.0, Clamp(-3, 0, 10))
	assert.Equal(t, 10.0, Clamp(42, 0, 10))
	// inverted range collapses to lo
	assert.Equal(t, 0.0, Clamp(7, 0, -5))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 5, ClampInt(5, 0, 10))
	assert.Equal(t, 0, ClampInt(-3, 0, 10))
	assert.Equal(t, 10, ClampInt(42, 0, 10))
	assert.Equal(t, 3, ClampInt(9, 3, 1))
}

func TestRatiosEqual(t *testing.T) {
	assert.True(t, RatiosEqual(Ratio4x6.Value(), 2.0/3.0, 0.01))
	assert.False(t, RatiosEqual(Ratio4x6.Value(), Ratio5x7.Value(), 0.01))
}
