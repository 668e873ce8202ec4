package detect

import (
	"context"

	"github.com/pankaj139/pixelforge/internal/geometry"
)

// Kind tags a detection as a face or a whole person.
type Kind string

const (
	KindFace   Kind = "face"
	KindPerson Kind = "person"
)

// Point is an auxiliary landmark or keypoint in image pixel space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detection is a weighted box found in an image. Faces may carry facial
// landmarks, people may carry pose keypoints; consumers that only need a
// weighted box ignore both.
type Detection struct {
	Kind       Kind                 `json:"kind"`
	Box        geometry.BoundingBox `json:"bounding_box"`
	Confidence float64              `json:"confidence"`
	Landmarks  []Point              `json:"landmarks,omitempty"`
	Keypoints  []Point              `json:"keypoints,omitempty"`
}

// Result groups the detections for one source image. It lives only as long
// as the crop decision it feeds.
type Result struct {
	Faces      []Detection `json:"faces"`
	People     []Detection `json:"people"`
	Confidence float64     `json:"confidence"`
}

// All returns faces followed by people as one candidate set.
func (r Result) All() []Detection {
	out := make([]Detection, 0, len(r.Faces)+len(r.People))
	out = append(out, r.Faces...)
	out = append(out, r.People...)
	return out
}

// Empty reports whether no detections were found.
func (r Result) Empty() bool { return len(r.Faces) == 0 && len(r.People) == 0 }

// NewResult splits detections by kind and computes the mean confidence,
// 0 for an empty set.
func NewResult(dets []Detection) Result {
	var r Result
	var sum float64
	for _, d := range dets {
		switch d.Kind {
		case KindPerson:
			r.People = append(r.People, d)
		default:
			r.Faces = append(r.Faces, d)
		}
		sum += d.Confidence
	}
	if n := len(dets); n > 0 {
		r.Confidence = sum / float64(n)
	}
	return r
}

// Options narrows a detection request.
type Options struct {
	Faces               bool
	People              bool
	ConfidenceThreshold float64
}

// DefaultOptions asks for both kinds at the service's default threshold.
func DefaultOptions() Options {
	return Options{Faces: true, People: true, ConfidenceThreshold: 0.4}
}

// Detector finds faces and people in an image file.
type Detector interface {
	Detect(ctx context.Context, imagePath string, opts Options) ([]Detection, error)
}
