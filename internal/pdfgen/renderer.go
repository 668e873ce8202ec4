// Package pdfgen assembles composed sheets into a print-ready PDF and
// renders preview thumbnails of the result.
package pdfgen

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/job"
)

// Metadata is optional document information carried into the output name.
type Metadata struct {
	JobID string
	Title string
}

// Renderer writes one PDF page per composed sheet.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// Render imports each sheet raster as a full PDF page. It fails loudly if
// any referenced sheet file is missing; existence validation ahead of time
// is the orchestrator's job, this is the backstop.
func (r *Renderer) Render(sheets []job.ComposedSheet, outputDir string, meta *Metadata) (string, error) {
	if len(sheets) == 0 {
		return "", fmt.Errorf("no sheets to render")
	}
	paths := make([]string, 0, len(sheets))
	for _, s := range sheets {
		if _, err := os.Stat(s.SheetPath); err != nil {
			return "", fmt.Errorf("sheet file missing: %s: %w", s.SheetPath, err)
		}
		paths = append(paths, s.SheetPath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create pdf output dir: %w", err)
	}

	name := fmt.Sprintf("sheets_%d.pdf", time.Now().Unix())
	if meta != nil && meta.JobID != "" {
		name = fmt.Sprintf("sheets_%s.pdf", meta.JobID)
	}
	outPath := filepath.Join(outputDir, name)

	if err := api.ImportImagesFile(paths, outPath, nil, nil); err != nil {
		return "", fmt.Errorf("pdf import images: %w", err)
	}

	// Sanity-check the produced document before handing the path out.
	n, err := api.PageCountFile(outPath)
	if err != nil {
		return "", fmt.Errorf("pdf page count failed: %w", err)
	}
	if n != len(sheets) {
		return "", fmt.Errorf("pdf has %d pages, expected %d", n, len(sheets))
	}

	log.Info().Str("pdf", outPath).Int("pages", n).Msg("rendered sheet PDF")
	return outPath, nil
}

// PageCount returns the number of pages in a PDF on disk.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}
