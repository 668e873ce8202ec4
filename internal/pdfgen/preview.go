package pdfgen

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// RenderPreviewJPEG renders one page of a produced PDF as an in-memory
// JPEG, used for download-page thumbnails. Pages are 1-based.
func RenderPreviewJPEG(pdfPath string, pageNum, dpi, quality int) ([]byte, int, int, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(pageNum-1, float64(dpi))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("render page %d: %w", pageNum, err)
	}
	bounds := img.Bounds()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode preview: %w", err)
	}

	log.Debug().Str("pdf", pdfPath).Int("page", pageNum).
		Int("width", bounds.Dx()).Int("height", bounds.Dy()).
		Msg("rendered pdf preview")
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
