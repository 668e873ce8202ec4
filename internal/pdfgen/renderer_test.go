package pdfgen

import (
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj139/pixelforge/internal/job"
)

func writeSheet(t *testing.T, dir, name string) string {
	t.Helper()
	img := imaging.New(620, 877, color.White)
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestRenderProducesOnePagePerSheet(t *testing.T) {
	dir := t.TempDir()
	sheets := []job.ComposedSheet{
		{ID: "s1", SheetPath: writeSheet(t, dir, "sheet_1.jpg")},
		{ID: "s2", SheetPath: writeSheet(t, dir, "sheet_2.jpg")},
	}

	r := NewRenderer()
	pdfPath, err := r.Render(sheets, dir, &Metadata{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sheets_job-1.pdf"), pdfPath)

	pages, err := PageCount(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestRenderFailsOnMissingSheet(t *testing.T) {
	dir := t.TempDir()
	sheets := []job.ComposedSheet{
		{ID: "s1", SheetPath: filepath.Join(dir, "gone.jpg")},
	}

	r := NewRenderer()
	_, err := r.Render(sheets, dir, &Metadata{JobID: "job-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.jpg")
}

func TestRenderRejectsEmptyInput(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render(nil, t.TempDir(), &Metadata{JobID: "job-3"})
	assert.Error(t, err)
}
