// Package codec wraps the raster operations the pipeline needs: decode
// (JPEG/PNG/BMP/TIFF/WebP), crop, fit-resize and grid composition. It never
// stretches an image: resizing always preserves the source aspect ratio.
package codec

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	xwebp "golang.org/x/image/webp"

	"github.com/pankaj139/pixelforge/internal/geometry"
)

const jpegQuality = 95

// Load decodes an image from disk. imaging handles the common formats;
// WebP goes through x/image first and chai2010 as a fallback, since the
// latter copes with lossless files the former rejects.
func Load(path string) (image.Image, error) {
	if img, err := imaging.Open(path, imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if img, err := xwebp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("codec: unknown image format for %s", path)
}

// Save writes img to path, creating parent directories. Anything that is
// not PNG is written as JPEG.
func Save(img image.Image, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
		path = strings.TrimSuffix(path, ext) + ".jpg"
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return path, nil
}

// Size returns the pixel dimensions of the image at path without keeping
// the decoded pixels around.
func Size(path string) (geometry.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return geometry.Dimensions{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		// WebP configs are not registered through DecodeConfig for the
		// chai2010 path; fall back to a full decode.
		img, lerr := Load(path)
		if lerr != nil {
			return geometry.Dimensions{}, err
		}
		b := img.Bounds()
		return geometry.Dimensions{Width: b.Dx(), Height: b.Dy()}, nil
	}
	return geometry.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// Crop cuts box out of the image at imagePath and writes it to outputPath.
// Returns the final pixel dimensions of the written file.
func Crop(imagePath string, box geometry.BoundingBox, outputPath string) (geometry.Dimensions, error) {
	img, err := Load(imagePath)
	if err != nil {
		return geometry.Dimensions{}, err
	}
	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height)
	cropped := imaging.Crop(img, rect)
	if _, err := Save(cropped, outputPath); err != nil {
		return geometry.Dimensions{}, err
	}
	b := cropped.Bounds()
	log.Debug().Str("src", imagePath).Str("out", outputPath).
		Int("width", b.Dx()).Int("height", b.Dy()).Msg("cropped image")
	return geometry.Dimensions{Width: b.Dx(), Height: b.Dy()}, nil
}

// ResizeToFit scales img down to fit inside cell, preserving aspect ratio.
// Images already smaller than the cell are returned unchanged: no
// enlargement.
func ResizeToFit(img image.Image, cell geometry.Dimensions) image.Image {
	b := img.Bounds()
	if b.Dx() <= cell.Width && b.Dy() <= cell.Height {
		return img
	}
	return imaging.Fit(img, cell.Width, cell.Height, imaging.Lanczos)
}

// Placement positions an image on a composed canvas.
type Placement struct {
	Image image.Image
	X     int
	Y     int
}

// Compose paints placements onto a background-filled canvas and writes the
// result to outputPath.
func Compose(canvas geometry.Dimensions, background color.Color, placements []Placement, outputPath string) (string, error) {
	if err := canvas.Validate(); err != nil {
		return "", err
	}
	sheet := imaging.New(canvas.Width, canvas.Height, background)
	for _, p := range placements {
		if p.Image == nil {
			continue
		}
		sheet = imaging.Paste(sheet, p.Image, image.Pt(p.X, p.Y))
	}
	return Save(sheet, outputPath)
}
