// Package crop turns a sparse set of weighted detections into a single
// aspect-ratio-correct crop rectangle. The engine does no I/O and never
// fails: every degenerate detection set has a total fallback path.
package crop

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"

	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
)

// Strategy names the algorithm that picked the crop rectangle.
type Strategy string

const (
	StrategyPeopleCentered Strategy = "people-centered"
	StrategyCenter         Strategy = "fallback-center"
	StrategyRuleOfThirds   Strategy = "rule-of-thirds"
	StrategySmart          Strategy = "fallback-smart"
)

// FallbackStrategy selects the crop placement when no people were detected.
type FallbackStrategy string

const (
	FallbackCenter       FallbackStrategy = "center"
	FallbackRuleOfThirds FallbackStrategy = "rule-of-thirds"
	FallbackSmart        FallbackStrategy = "smart"
)

// FallbackConfidence is the fixed crop confidence and quality score for all
// fallback strategies. Downstream statistics depend on this exact value;
// do not derive it from the image.
const FallbackConfidence = 0.4

// CropArea is the chosen rectangle plus the engine's confidence in it.
// The confidence reflects crop-decision quality, not detector accuracy.
type CropArea struct {
	geometry.BoundingBox
	Confidence float64 `json:"confidence"`
}

// Decision is the engine's output.
type Decision struct {
	CropArea     CropArea `json:"crop_area"`
	Strategy     Strategy `json:"strategy"`
	QualityScore float64  `json:"quality_score"`
}

// Options tunes the fallback path. Image carries the decoded pixels for the
// smart strategy's saliency analysis; when nil, smart degrades to center.
type Options struct {
	Fallback FallbackStrategy
	Image    image.Image
}

// Decide computes the crop rectangle for an image of the given dimensions.
// Callers must validate dims before invoking; a 0x0 image is a precondition
// violation, not a handled case.
func Decide(dims geometry.Dimensions, result detect.Result, target geometry.AspectRatio, opts Options) Decision {
	cropW, cropH := sizeCrop(dims, target)

	candidates := result.All()
	if len(candidates) > 0 {
		cx, cy := centerOfMass(candidates)
		box := placeAt(cx, cy, cropW, cropH, dims)
		conf := aggregateConfidence(candidates)
		return Decision{
			CropArea:     CropArea{BoundingBox: box, Confidence: conf},
			Strategy:     StrategyPeopleCentered,
			QualityScore: conf,
		}
	}

	fallback := opts.Fallback
	if fallback == "" {
		fallback = FallbackSmart
	}

	var box geometry.BoundingBox
	strategy := StrategyCenter
	switch fallback {
	case FallbackRuleOfThirds:
		cx, cy := thirdsIntersection(dims)
		box = placeAt(cx, cy, cropW, cropH, dims)
		strategy = StrategyRuleOfThirds
	case FallbackSmart:
		if center, ok := smartCenter(opts.Image, cropW, cropH); ok {
			box = placeAt(center.cx, center.cy, cropW, cropH, dims)
			strategy = StrategySmart
			break
		}
		fallthrough
	default:
		box = placeAt(float64(dims.Width)/2, float64(dims.Height)/2, cropW, cropH, dims)
		strategy = StrategyCenter
	}

	return Decision{
		CropArea:     CropArea{BoundingBox: box, Confidence: FallbackConfidence},
		Strategy:     strategy,
		QualityScore: FallbackConfidence,
	}
}

// sizeCrop picks the largest crop of the target ratio that fits inside the
// image without upscaling: width-limited when the target is wider than the
// image, height-limited otherwise.
func sizeCrop(dims geometry.Dimensions, target geometry.AspectRatio) (int, int) {
	targetRatio := target.Value()
	imageRatio := dims.Ratio()

	var w, h int
	if targetRatio > imageRatio {
		w = dims.Width
		h = int(math.Round(float64(w) / targetRatio))
	} else {
		h = dims.Height
		w = int(math.Round(float64(h) * targetRatio))
	}
	if w > dims.Width {
		w = dims.Width
	}
	if h > dims.Height {
		h = dims.Height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// centerOfMass is the confidence-weighted average of the detection box
// centers. Confidence is the sole weight. Empty input yields (0,0) by
// convention.
func centerOfMass(dets []detect.Detection) (float64, float64) {
	var sumX, sumY, sumW float64
	for _, d := range dets {
		cx, cy := d.Box.Center()
		sumX += cx * d.Confidence
		sumY += cy * d.Confidence
		sumW += d.Confidence
	}
	if sumW == 0 {
		return 0, 0
	}
	return sumX / sumW, sumY / sumW
}

func aggregateConfidence(dets []detect.Detection) float64 {
	var sum float64
	for _, d := range dets {
		sum += d.Confidence
	}
	return geometry.Clamp(sum/float64(len(dets)), 0, 1)
}

// placeAt centers a cropW x cropH box on (cx, cy) and clamps it into the
// image. Clamping is the sole tie-break for off-center subjects.
func placeAt(cx, cy float64, cropW, cropH int, dims geometry.Dimensions) geometry.BoundingBox {
	x := geometry.Clamp(cx-float64(cropW)/2, 0, float64(dims.Width-cropW))
	y := geometry.Clamp(cy-float64(cropH)/2, 0, float64(dims.Height-cropH))
	return geometry.BoundingBox{X: int(math.Round(x)), Y: int(math.Round(y)), Width: cropW, Height: cropH}
}

// thirdsIntersection returns the rule-of-thirds intersection nearest the
// image center. All four intersections are equidistant on any image, so the
// upper-left point is the deterministic choice.
func thirdsIntersection(dims geometry.Dimensions) (float64, float64) {
	return float64(dims.Width) / 3, float64(dims.Height) / 3
}

type cropCenter struct {
	cx, cy float64
}

// smartCenter runs a saliency analysis over the decoded image and returns
// the center of the highest-energy region of the requested size. A nil
// image or analyzer failure reports ok=false so the caller can degrade to
// the center strategy.
func smartCenter(img image.Image, cropW, cropH int) (cropCenter, bool) {
	if img == nil {
		return cropCenter{}, false
	}
	analyzer := smartcrop.NewAnalyzer(fitResizer{})
	best, err := analyzer.FindBestCrop(img, cropW, cropH)
	if err != nil || best.Empty() {
		return cropCenter{}, false
	}
	return cropCenter{
		cx: float64(best.Min.X) + float64(best.Dx())/2,
		cy: float64(best.Min.Y) + float64(best.Dy())/2,
	}, true
}

// fitResizer adapts imaging to the smartcrop.Resizer interface.
type fitResizer struct{}

func (fitResizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), imaging.Lanczos)
}
