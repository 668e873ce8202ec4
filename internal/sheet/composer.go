// Package sheet packs processed images into fixed-size print sheets. The
// layout math is resolution-agnostic; the default page provider yields A4
// at 300 DPI.
package sheet

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/codec"
	"github.com/pankaj139/pixelforge/internal/geometry"
	"github.com/pankaj139/pixelforge/internal/job"
)

// A4 pixel dimensions at 300 DPI and the fixed page margin.
const (
	a4WidthPx  = 2480
	a4HeightPx = 3508
	marginPx   = 150

	// Spacing shrinks on dense grids to maximize usable image area.
	sparseSpacingPx = 60
	denseSpacingPx  = 40
	denseCellCount  = 4
)

// DenseLayoutName marks a named layout as dense regardless of cell count.
const DenseLayoutName = "dense"

// PageProvider resolves canvas pixel dimensions for an orientation.
type PageProvider func(o geometry.Orientation) geometry.Dimensions

// A4Page is the default 300 DPI page provider.
func A4Page(o geometry.Orientation) geometry.Dimensions {
	if o == geometry.Landscape {
		return geometry.Dimensions{Width: a4HeightPx, Height: a4WidthPx}
	}
	return geometry.Dimensions{Width: a4WidthPx, Height: a4HeightPx}
}

// Composer lays out processed images on grid sheets.
type Composer struct {
	pages      PageProvider
	outputDir  string
	background color.Color
}

// NewComposer writes sheets into outputDir using the given page provider
// (A4Page when nil).
func NewComposer(outputDir string, pages PageProvider) *Composer {
	if pages == nil {
		pages = A4Page
	}
	return &Composer{pages: pages, outputDir: outputDir, background: color.White}
}

// Compose partitions images into ceil(N/capacity) sheets, preserving input
// order, and composites each one. A single image failing to load degrades
// that slot only; the rest of the sheet is still produced.
func (c *Composer) Compose(images []job.ProcessedImage, layout job.GridLayout, orientation geometry.Orientation) ([]job.ComposedSheet, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to compose")
	}

	capacity := layout.Capacity()
	var sheets []job.ComposedSheet
	for start := 0; start < len(images); start += capacity {
		end := start + capacity
		if end > len(images) {
			end = len(images)
		}
		s, err := c.composeOne(images[start:end], layout, orientation)
		if err != nil {
			return nil, fmt.Errorf("compose sheet %d: %w", len(sheets)+1, err)
		}
		sheets = append(sheets, s)
	}
	return sheets, nil
}

func (c *Composer) composeOne(chunk []job.ProcessedImage, layout job.GridLayout, orientation geometry.Orientation) (job.ComposedSheet, error) {
	canvas := c.pages(orientation)
	grid := planGrid(canvas, layout)

	var placements []codec.Placement
	for i, pi := range chunk {
		img, err := codec.Load(pi.ProcessedPath)
		if err != nil {
			log.Warn().Err(err).Str("image", pi.ProcessedPath).
				Msg("skipping image on sheet; continuing with the rest")
			continue
		}
		fitted := codec.ResizeToFit(img, grid.cell)
		x, y := grid.cellOrigin(i, layout)
		b := fitted.Bounds()
		placements = append(placements, codec.Placement{
			Image: fitted,
			X:     x + (grid.cell.Width-b.Dx())/2,
			Y:     y + (grid.cell.Height-b.Dy())/2,
		})
	}

	id := uuid.NewString()
	outPath := filepath.Join(c.outputDir, fmt.Sprintf("sheet_%s.jpg", id))
	written, err := codec.Compose(canvas, c.background, placements, outPath)
	if err != nil {
		return job.ComposedSheet{}, err
	}

	return job.ComposedSheet{
		ID:          id,
		SheetPath:   written,
		Layout:      layout,
		Orientation: orientation,
		Images:      chunk,
		EmptySlots:  layout.Capacity() - len(chunk),
		CreatedAt:   time.Now(),
	}, nil
}

// gridPlan holds the resolved cell size and the centered grid origin.
type gridPlan struct {
	cell    geometry.Dimensions
	spacing int
	originX int
	originY int
}

// planGrid subtracts margins and inter-cell spacing from the canvas, floors
// the remainder into integer cells, then centers the filled grid within the
// canvas. A single image in a 2x2 grid sits centered, not top-left.
func planGrid(canvas geometry.Dimensions, layout job.GridLayout) gridPlan {
	spacing := SpacingFor(layout)

	usableW := canvas.Width - 2*marginPx - spacing*(layout.Columns-1)
	usableH := canvas.Height - 2*marginPx - spacing*(layout.Rows-1)
	cellW := usableW / layout.Columns
	cellH := usableH / layout.Rows

	gridW := cellW*layout.Columns + spacing*(layout.Columns-1)
	gridH := cellH*layout.Rows + spacing*(layout.Rows-1)

	return gridPlan{
		cell:    geometry.Dimensions{Width: cellW, Height: cellH},
		spacing: spacing,
		originX: (canvas.Width - gridW) / 2,
		originY: (canvas.Height - gridH) / 2,
	}
}

// cellOrigin returns the top-left corner of cell i in row-major order.
func (g gridPlan) cellOrigin(i int, layout job.GridLayout) (int, int) {
	row := i / layout.Columns
	col := i % layout.Columns
	x := g.originX + col*(g.cell.Width+g.spacing)
	y := g.originY + row*(g.cell.Height+g.spacing)
	return x, y
}

// SpacingFor selects the density-dependent inter-cell spacing. Grids of
// four or more cells, and any layout named "dense", use the tighter value.
func SpacingFor(layout job.GridLayout) int {
	if layout.Capacity() >= denseCellCount || layout.Name == DenseLayoutName {
		return denseSpacingPx
	}
	return sparseSpacingPx
}

// SheetCount is the pagination rule: ceil(n / capacity).
func SheetCount(n int, layout job.GridLayout) int {
	return int(math.Ceil(float64(n) / float64(layout.Capacity())))
}
