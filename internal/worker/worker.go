// Package worker consumes jobs from the queue and runs them through the
// pipeline, mirroring progress into the status store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/job"
	"github.com/pankaj139/pixelforge/internal/metrics"
	"github.com/pankaj139/pixelforge/internal/pipeline"
	"github.com/pankaj139/pixelforge/internal/store"
)

// Queue is what the worker needs from the job queue.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, payload []byte, delay time.Duration) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	IsDone(ctx context.Context, jobID string) (bool, error)
	MarkDone(ctx context.Context, jobID string, ttl time.Duration) error
	Depths(ctx context.Context) (int64, int64, int64, error)
}

// StatusStore mirrors job state for pollers.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
	SetProgress(ctx context.Context, jobID string, prog job.Progress) error
}

// Archiver pushes finished artifacts to object storage. Optional.
type Archiver interface {
	UploadFile(ctx context.Context, jobID, filePath, contentType string) (string, error)
}

// Fetcher pulls s3:// source objects down to local files. Optional; without
// one, jobs referencing object-store sources fail at stage one.
type Fetcher interface {
	DownloadToFile(ctx context.Context, key, destPath string) (int64, error)
}

// Config sizes the worker pool and the per-job run.
type Config struct {
	Concurrency    int
	JobTimeout     time.Duration
	PipelineOpts   pipeline.Options
	DoneTTL        time.Duration
	TempSweep      time.Duration
	TempMaxAge     time.Duration
	MaxJobAttempts int
	RequeueDelay   time.Duration
}

type Worker struct {
	cfg      Config
	q        Queue
	status   StatusStore
	pipeline *pipeline.Pipeline
	archive  Archiver
	fetch    Fetcher
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, q Queue, status StatusStore, p *pipeline.Pipeline, archive Archiver, fetch Fetcher) *Worker {
	if cfg.Concurrency <= 0 { cfg.Concurrency = 4 }
	if cfg.JobTimeout <= 0 { cfg.JobTimeout = 30 * time.Minute }
	if cfg.DoneTTL <= 0 { cfg.DoneTTL = 24 * time.Hour }
	if cfg.MaxJobAttempts <= 0 { cfg.MaxJobAttempts = 2 }
	if cfg.RequeueDelay <= 0 { cfg.RequeueDelay = time.Minute }
	return &Worker{cfg: cfg, q: q, status: status, pipeline: p, archive: archive, fetch: fetch, stop: make(chan struct{})}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.housekeeping()
}

// Stop signals the loops and waits for in-flight jobs to finish or ctx to
// expire.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() { w.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("pipeline worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("pipeline worker stopped")
			return
		default:
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil { continue }

		w.handle(msgID, data)
	}
}

func (w *Worker) handle(msgID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()
	defer func() { _ = w.q.Ack(ctx, msgID) }()

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		log.Error().Err(err).Msg("malformed job payload; sending to DLQ")
		_ = w.q.AddDLQ(ctx, data, "malformed payload")
		return
	}

	if cancelled, _ := w.q.IsCancelled(ctx, j.ID); cancelled {
		log.Warn().Str("job_id", j.ID).Msg("job cancelled before processing; skipping")
		return
	}
	if done, _ := w.q.IsDone(ctx, j.ID); done {
		log.Debug().Str("job_id", j.ID).Msg("job already completed; skipping requeue")
		return
	}

	opts := w.cfg.PipelineOpts
	opts.Progress = func(prog job.Progress) {
		_ = w.status.SetProgress(ctx, j.ID, prog)
	}

	if err := w.fetchSources(ctx, &j); err != nil {
		w.failOrRequeue(ctx, &j, data, err)
		return
	}

	_ = w.status.SetProgress(ctx, j.ID, job.Progress{Stage: "processing", TotalImages: len(j.Files)})
	results, err := w.pipeline.Execute(ctx, &j, opts)
	if err != nil {
		w.failOrRequeue(ctx, &j, data, err)
		return
	}
	now := time.Now()

	w.archiveResults(ctx, results)

	_ = w.status.Set(ctx, j.ID, store.Status{
		Status:     string(job.StatusCompleted),
		Processed:  len(results.ProcessedImages),
		Total:      len(j.Files),
		Percentage: 100,
		Message:    "completed",
		End:        &now,
		Results:    results,
	})
	_ = w.q.MarkDone(ctx, j.ID, w.cfg.DoneTTL)
}

// failOrRequeue retries transient failures through the delayed queue and
// sends everything else, or an exhausted job, to the DLQ. The requeued
// payload is rebuilt from the original one so source paths survive.
func (w *Worker) failOrRequeue(ctx context.Context, j *job.Job, data []byte, jobErr error) {
	var valErr *pipeline.ValidationError
	permanent := errors.As(jobErr, &valErr)

	if !permanent && j.Attempts+1 < w.cfg.MaxJobAttempts {
		var fresh job.Job
		if err := json.Unmarshal(data, &fresh); err == nil {
			fresh.Attempts++
			if payload, err := json.Marshal(fresh); err == nil {
				if err := w.q.EnqueueDelayed(ctx, payload, w.cfg.RequeueDelay); err == nil {
					log.Warn().Err(jobErr).Str("job_id", j.ID).Int("attempt", fresh.Attempts).Msg("job requeued after failure")
					_ = w.status.Set(ctx, j.ID, store.Status{
						Status: string(job.StatusPending), Total: len(j.Files),
						Message: fmt.Sprintf("requeued after failure: %v", jobErr),
					})
					return
				}
			}
		}
	}

	now := time.Now()
	log.Error().Err(jobErr).Str("job_id", j.ID).Msg("job failed")
	_ = w.q.AddDLQ(ctx, data, jobErr.Error())
	_ = w.status.Set(ctx, j.ID, store.Status{
		Status: string(job.StatusFailed), Total: len(j.Files), Message: jobErr.Error(), End: &now,
	})
}

// fetchSources downloads s3:// file paths into the temp dir and rewrites
// them to local paths. Plain local paths pass through untouched.
func (w *Worker) fetchSources(ctx context.Context, j *job.Job) error {
	dir := ""
	for i, f := range j.Files {
		key, ok := objectKey(f.Path)
		if !ok { continue }
		if w.fetch == nil {
			return fmt.Errorf("no object storage configured for source %s", f.Path)
		}
		if dir == "" {
			dir = filepath.Join(w.cfg.PipelineOpts.TempDir, j.ID)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create source dir: %w", err)
			}
		}
		dest := filepath.Join(dir, path.Base(key))
		if _, err := w.fetch.DownloadToFile(ctx, key, dest); err != nil {
			return fmt.Errorf("fetch source %s: %w", f.Path, err)
		}
		j.Files[i].Path = dest
	}
	return nil
}

// objectKey strips the s3://<bucket>/ prefix. The bucket segment is
// informational; the fetcher is already bound to one bucket.
func objectKey(p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, "s3://")
	if !ok { return "", false }
	if i := strings.IndexByte(rest, '/'); i >= 0 && i+1 < len(rest) {
		return rest[i+1:], true
	}
	return "", false
}

// archiveResults pushes artifacts to object storage. Best effort; local
// results remain authoritative.
func (w *Worker) archiveResults(ctx context.Context, results *job.Results) {
	if w.archive == nil { return }
	for _, pi := range results.ProcessedImages {
		if _, err := w.archive.UploadFile(ctx, results.JobID, pi.ProcessedPath, "image/jpeg"); err != nil {
			log.Warn().Err(err).Str("path", pi.ProcessedPath).Msg("artifact upload failed")
		}
	}
	for _, s := range results.ComposedSheets {
		if _, err := w.archive.UploadFile(ctx, results.JobID, s.SheetPath, "image/jpeg"); err != nil {
			log.Warn().Err(err).Str("path", s.SheetPath).Msg("sheet upload failed")
		}
	}
	if results.PDFPath != "" {
		if _, err := w.archive.UploadFile(ctx, results.JobID, results.PDFPath, "application/pdf"); err != nil {
			log.Warn().Err(err).Str("path", results.PDFPath).Msg("pdf upload failed")
		}
	}
}

// housekeeping exports queue depth gauges and sweeps stale temp files.
func (w *Worker) housekeeping() {
	defer w.wg.Done()
	depthTicker := time.NewTicker(15 * time.Second)
	defer depthTicker.Stop()
	sweep := w.cfg.TempSweep
	if sweep <= 0 { sweep = time.Hour }
	sweepTicker := time.NewTicker(sweep)
	defer sweepTicker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-depthTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			ready, delayed, dlq, err := w.q.Depths(ctx)
			cancel()
			if err != nil { continue }
			metrics.SetQueueDepth("ready", ready)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		case <-sweepTicker.C:
			maxAge := w.cfg.TempMaxAge
			if maxAge <= 0 { maxAge = 24 * time.Hour }
			pipeline.SweepTempDir(w.cfg.PipelineOpts.TempDir, maxAge)
		}
	}
}
