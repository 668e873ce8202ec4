package geometry

import (
	"fmt"
	"math"
)

// Orientation of an aspect ratio or page.
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
	Square    Orientation = "square"
)

// AspectRatio is a width:height ratio, not a pixel size.
type AspectRatio struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

// Common print ratios.
var (
	Ratio4x6    = AspectRatio{Width: 4, Height: 6, Name: "4x6"}
	Ratio5x7    = AspectRatio{Width: 5, Height: 7, Name: "5x7"}
	Ratio8x10   = AspectRatio{Width: 8, Height: 10, Name: "8x10"}
	RatioSquare = AspectRatio{Width: 1, Height: 1, Name: "square"}
	Ratio16x9   = AspectRatio{Width: 16, Height: 9, Name: "16x9"}
)

// Value returns width/height as a float.
func (a AspectRatio) Value() float64 { return float64(a.Width) / float64(a.Height) }

// Orientation is derived from the sign of Width-Height.
func (a AspectRatio) Orientation() Orientation {
	switch {
	case a.Width < a.Height:
		return Portrait
	case a.Width > a.Height:
		return Landscape
	default:
		return Square
	}
}

// Validate rejects non-positive ratio terms.
func (a AspectRatio) Validate() error {
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("aspect ratio must have positive terms, got %d:%d", a.Width, a.Height)
	}
	return nil
}

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Ratio() float64 { return float64(d.Width) / float64(d.Height) }

func (d Dimensions) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("dimensions must be positive, got %dx%d", d.Width, d.Height)
	}
	return nil
}

// BoundingBox is a pixel-space rectangle anchored at its top-left corner.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the box center point.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// FitsWithin reports whether the box lies entirely inside an image of the
// given dimensions.
func (b BoundingBox) FitsWithin(d Dimensions) bool {
	return b.X >= 0 && b.Y >= 0 && b.Width > 0 && b.Height > 0 &&
		b.X+b.Width <= d.Width && b.Y+b.Height <= d.Height
}

func (b BoundingBox) Validate() error {
	if b.X < 0 || b.Y < 0 {
		return fmt.Errorf("bounding box origin must be non-negative, got (%d,%d)", b.X, b.Y)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("bounding box size must be positive, got %dx%d", b.Width, b.Height)
	}
	return nil
}

// Clamp constrains v to [lo, hi]. hi < lo collapses to lo, which happens
// when a crop box exactly fills one image axis.
func Clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// ClampInt is Clamp over ints.
func ClampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RatiosEqual compares two ratios within epsilon.
func RatiosEqual(a, b, eps float64) bool { return math.Abs(a-b) < eps }
