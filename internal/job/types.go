// Package job defines the data model shared by the pipeline, the sheet
// composer and the HTTP surface. Everything here is created fresh per job
// invocation and never mutated concurrently.
package job

import (
	"fmt"
	"time"

	"github.com/pankaj139/pixelforge/internal/crop"
	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusComposing     Status = "composing"
	StatusGeneratingPDF Status = "generating_pdf"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// File is one uploaded source image.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// GridLayout arranges processed images on one sheet.
type GridLayout struct {
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	Name    string `json:"name,omitempty"`
}

// Capacity is the number of cells on one sheet.
func (g GridLayout) Capacity() int { return g.Rows * g.Columns }

func (g GridLayout) Validate() error {
	if g.Rows < 1 || g.Columns < 1 {
		return fmt.Errorf("grid layout needs at least 1 row and 1 column, got %dx%d", g.Rows, g.Columns)
	}
	return nil
}

// SheetOptions enables the optional composition stage.
type SheetOptions struct {
	Enabled     bool                 `json:"enabled"`
	Layout      GridLayout           `json:"grid_layout"`
	Orientation geometry.Orientation `json:"orientation"`
	GeneratePDF bool                 `json:"generate_pdf"`
}

// Options selects per-job processing behavior.
type Options struct {
	AspectRatio      geometry.AspectRatio  `json:"aspect_ratio"`
	Fallback         crop.FallbackStrategy `json:"fallback_strategy,omitempty"`
	SheetComposition SheetOptions          `json:"sheet_composition"`
}

// Progress mirrors the job status with a percentage for pollers.
type Progress struct {
	Stage           string `json:"stage"`
	ProcessedImages int    `json:"processed_images"`
	TotalImages     int    `json:"total_images"`
	Percentage      int    `json:"percentage"`
	Message         string `json:"message,omitempty"`
}

// Job is one submitted processing request.
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Files       []File     `json:"files"`
	Options     Options    `json:"options"`
	Progress    Progress   `json:"progress"`
	Attempts    int        `json:"attempts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProcessedImage is the immutable result for one successfully cropped file.
type ProcessedImage struct {
	ID             string               `json:"id"`
	OriginalFileID string               `json:"original_file_id"`
	ProcessedPath  string               `json:"processed_path"`
	CropArea       crop.CropArea        `json:"crop_area"`
	AspectRatio    geometry.AspectRatio `json:"aspect_ratio"`
	Detections     detect.Result        `json:"detections"`
	ProcessingTime time.Duration        `json:"processing_time"`
	Strategy       crop.Strategy        `json:"strategy"`
}

// ComposedSheet is one page-sized raster holding up to capacity images.
// Images are referenced, not copied.
type ComposedSheet struct {
	ID          string               `json:"id"`
	SheetPath   string               `json:"sheet_path"`
	Layout      GridLayout           `json:"layout"`
	Orientation geometry.Orientation `json:"orientation"`
	Images      []ProcessedImage     `json:"images"`
	EmptySlots  int                  `json:"empty_slots"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Results is what a completed pipeline hands back. Callers must inspect the
// counts: a job can complete with some files failed or optional artifacts
// missing.
type Results struct {
	JobID           string           `json:"job_id"`
	ProcessedImages []ProcessedImage `json:"processed_images"`
	ComposedSheets  []ComposedSheet  `json:"composed_sheets,omitempty"`
	PDFPath         string           `json:"pdf_path,omitempty"`
	FailedFiles     map[string]string `json:"failed_files,omitempty"`
	TotalTime       time.Duration    `json:"total_time"`
}
