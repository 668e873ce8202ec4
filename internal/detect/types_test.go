package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pankaj139/pixelforge/internal/geometry"
)

func TestNewResultSplitsByKind(t *testing.T) {
	dets := []Detection{
		{Kind: KindFace, Box: geometry.BoundingBox{Width: 10, Height: 10}, Confidence: 0.9},
		{Kind: KindPerson, Box: geometry.BoundingBox{Width: 40, Height: 80}, Confidence: 0.6},
		{Kind: KindFace, Box: geometry.BoundingBox{Width: 12, Height: 12}, Confidence: 0.3},
	}
	r := NewResult(dets)

	assert.Len(t, r.Faces, 2)
	assert.Len(t, r.People, 1)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
	assert.False(t, r.Empty())
	assert.Len(t, r.All(), 3)
}

func TestNewResultEmpty(t *testing.T) {
	r := NewResult(nil)
	assert.True(t, r.Empty())
	assert.Zero(t, r.Confidence)
	assert.Empty(t, r.All())
}

func TestAllOrdersFacesFirst(t *testing.T) {
	r := Result{
		Faces:  []Detection{{Kind: KindFace, Confidence: 0.9}},
		People: []Detection{{Kind: KindPerson, Confidence: 0.5}},
	}
	all := r.All()
	assert.Equal(t, KindFace, all[0].Kind)
	assert.Equal(t, KindPerson, all[1].Kind)
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.Faces)
	assert.True(t, o.People)
	assert.InDelta(t, 0.4, o.ConfidenceThreshold, 1e-9)
}
