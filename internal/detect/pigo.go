package detect

import (
	"context"
	"fmt"
	"os"

	pigo "github.com/esimov/pigo/core"
	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/codec"
	"github.com/pankaj139/pixelforge/internal/geometry"
)

// Cascade tuning. MaxQ is the quality score at which a pigo detection maps
// to confidence 1.0.
const (
	cascadeMinSize     = 20
	cascadeShiftFactor = 0.1
	cascadeScaleFactor = 1.1
	clusterIoU         = 0.2
	minQuality         = 10.0
	maxQuality         = 40.0
)

// PigoDetector runs the pigo facefinder cascade locally. It is the
// always-available detector the pipeline falls back to when the remote
// service is unhealthy.
type PigoDetector struct {
	classifier *pigo.Pigo
}

// NewPigoDetector unpacks a facefinder cascade model from disk.
func NewPigoDetector(modelPath string) (*PigoDetector, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read cascade model: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade model: %w", err)
	}
	return &PigoDetector{classifier: classifier}, nil
}

// Detect finds faces in the image and, when asked for people, derives a
// person box from each face. Errors loading or scanning the image are
// returned to the caller, which treats them as "no detections".
func (d *PigoDetector) Detect(ctx context.Context, imagePath string, opts Options) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := codec.Load(imagePath)
	if err != nil {
		return nil, fmt.Errorf("load image for detection: %w", err)
	}
	src := pigo.ImgToNRGBA(img)
	pixels := pigo.RgbToGrayscale(src)
	cols := src.Bounds().Dx()
	rows := src.Bounds().Dy()

	params := pigo.CascadeParams{
		MinSize:     cascadeMinSize,
		MaxSize:     min(cols, rows),
		ShiftFactor: cascadeShiftFactor,
		ScaleFactor: cascadeScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	found := d.classifier.RunCascade(params, 0.0)
	found = d.classifier.ClusterDetections(found, clusterIoU)

	dims := geometry.Dimensions{Width: cols, Height: rows}
	var out []Detection
	for _, f := range found {
		if float64(f.Q) < minQuality {
			continue
		}
		conf := geometry.Clamp(float64(f.Q)/maxQuality, 0, 1)
		if conf < opts.ConfidenceThreshold {
			continue
		}
		box := faceBox(f, dims)
		if opts.Faces {
			out = append(out, Detection{Kind: KindFace, Box: box, Confidence: conf})
		}
		if opts.People {
			out = append(out, derivePerson(box, conf, dims))
		}
	}
	log.Debug().Str("image", imagePath).Int("detections", len(out)).Msg("local cascade detection")
	return out, nil
}

// faceBox converts pigo's center+scale detection into a clamped box.
func faceBox(f pigo.Detection, dims geometry.Dimensions) geometry.BoundingBox {
	half := f.Scale / 2
	x := geometry.ClampInt(f.Col-half, 0, dims.Width-1)
	y := geometry.ClampInt(f.Row-half, 0, dims.Height-1)
	w := geometry.ClampInt(f.Scale, 1, dims.Width-x)
	h := geometry.ClampInt(f.Scale, 1, dims.Height-y)
	return geometry.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

// derivePerson estimates a full-body box anchored at a face. The face sits
// roughly one head-height from the top of a standing figure about seven and
// a half heads tall and three heads wide. A discounted confidence marks the
// box as an estimate rather than a direct detection.
func derivePerson(face geometry.BoundingBox, conf float64, dims geometry.Dimensions) Detection {
	cx, _ := face.Center()
	bodyW := face.Width * 3
	bodyH := int(float64(face.Height) * 7.5)
	x := geometry.ClampInt(int(cx)-bodyW/2, 0, dims.Width-1)
	y := geometry.ClampInt(face.Y-face.Height/2, 0, dims.Height-1)
	w := geometry.ClampInt(bodyW, 1, dims.Width-x)
	h := geometry.ClampInt(bodyH, 1, dims.Height-y)
	return Detection{
		Kind:       KindPerson,
		Box:        geometry.BoundingBox{X: x, Y: y, Width: w, Height: h},
		Confidence: conf * 0.8,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
