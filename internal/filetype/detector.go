// Package filetype validates uploads by magic bytes, never by filename.
package filetype

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// FileTypeInfo contains detected file type information.
type FileTypeInfo struct {
	MIMEType         string
	Extension        string
	Supported        bool
	NeedsTranscoding bool
	Description      string
}

// Detector handles file type detection using magic bytes.
type Detector struct {
	// MaxBytes rejects files larger than this. Zero means no limit.
	MaxBytes int64
}

// New creates a file type detector with the given upload size cap.
func New(maxBytes int64) *Detector {
	return &Detector{MaxBytes: maxBytes}
}

// Detect inspects the file's magic bytes and classifies it. The filename
// plays no part in the decision.
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	if d.MaxBytes > 0 {
		fi, err := os.Stat(filePath)
		if err != nil {
			return nil, fmt.Errorf("stat file: %w", err)
		}
		if fi.Size() > d.MaxBytes {
			return nil, fmt.Errorf("file too large: %d bytes (limit %d)", fi.Size(), d.MaxBytes)
		}
	}

	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", filePath).Msg("detected file type")

	d.classify(info)
	return info, nil
}

// classify marks which image formats the pipeline accepts. WebP, BMP and
// TIFF pass through the codec's decode chain and come out as JPEG, so they
// count as transcoded.
func (d *Detector) classify(info *FileTypeInfo) {
	switch info.MIMEType {
	case "image/jpeg":
		info.Supported = true
		info.Description = "JPEG image"

	case "image/png":
		info.Supported = true
		info.Description = "PNG image"

	case "image/webp":
		info.Supported = true
		info.NeedsTranscoding = true
		info.Description = "WebP image"

	case "image/bmp", "image/x-ms-bmp":
		info.Supported = true
		info.NeedsTranscoding = true
		info.Description = "BMP image"

	case "image/tiff":
		info.Supported = true
		info.NeedsTranscoding = true
		info.Description = "TIFF image"

	default:
		if strings.HasPrefix(info.MIMEType, "image/") {
			info.Description = fmt.Sprintf("Unsupported image format: %s", info.MIMEType)
		} else {
			info.Description = fmt.Sprintf("Not an image: %s", info.MIMEType)
		}
	}
}

// Validate returns an error when the file is not a supported image.
func (d *Detector) Validate(filePath string) (*FileTypeInfo, error) {
	info, err := d.Detect(filePath)
	if err != nil {
		return nil, err
	}
	if !info.Supported {
		return info, fmt.Errorf("%s", info.Description)
	}
	return info, nil
}
