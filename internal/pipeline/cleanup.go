package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/job"
)

// cleanupArtifacts removes every file the job produced so far. Best effort;
// a failed removal is logged and never surfaced to the caller.
func (p *Pipeline) cleanupArtifacts(results *job.Results) {
	removed := 0
	for _, pi := range results.ProcessedImages {
		if rmFile(pi.ProcessedPath) {
			removed++
		}
	}
	for _, s := range results.ComposedSheets {
		if rmFile(s.SheetPath) {
			removed++
		}
	}
	if results.PDFPath != "" && rmFile(results.PDFPath) {
		removed++
	}
	log.Info().Str("job_id", results.JobID).Int("removed", removed).Msg("cleaned up job artifacts")
}

func rmFile(path string) bool {
	if path == "" {
		return false
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove artifact")
		}
		return false
	}
	return true
}

// SweepTempDir deletes files under dir older than maxAge. Workers run it
// periodically so crashed jobs do not leak disk.
func SweepTempDir(dir string, maxAge time.Duration) int {
	if dir == "" {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("temp sweep removal failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Str("dir", dir).Int("removed", removed).Msg("swept stale temp files")
	}
	return removed
}
