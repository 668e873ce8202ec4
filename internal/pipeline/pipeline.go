// Package pipeline drives a job through its processing, composition and PDF
// stages with retries and graceful degradation between the remote service
// and the local engines.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/codec"
	"github.com/pankaj139/pixelforge/internal/crop"
	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
	"github.com/pankaj139/pixelforge/internal/job"
	"github.com/pankaj139/pixelforge/internal/metrics"
	"github.com/pankaj139/pixelforge/internal/pdfgen"
	"github.com/pankaj139/pixelforge/internal/remote"
)

// ProcessingStrategy is the remote-vs-local axis, resolved once per
// invocation and passed down as data rather than re-checked per file.
type ProcessingStrategy string

const (
	StrategyRemote ProcessingStrategy = "remote"
	StrategyLocal  ProcessingStrategy = "local"
)

// Composer is the local sheet layout engine contract.
type Composer interface {
	Compose(images []job.ProcessedImage, layout job.GridLayout, orientation geometry.Orientation) ([]job.ComposedSheet, error)
}

// PDFRenderer renders composed sheets into one document.
type PDFRenderer interface {
	Render(sheets []job.ComposedSheet, outputDir string, meta *pdfgen.Metadata) (string, error)
}

// RemoteService is the optional acceleration path.
type RemoteService interface {
	Configured() bool
	HealthCheck(ctx context.Context) error
	CropImage(ctx context.Context, req remote.CropRequest) (remote.CropResponse, error)
	ProcessBatch(ctx context.Context, req remote.BatchRequest) (remote.BatchResponse, error)
	ComposeSheet(ctx context.Context, req remote.ComposeRequest) (remote.ComposeResponse, error)
}

// Breaker tracks remote-service cooldown across jobs.
type Breaker interface {
	IsOpen(ctx context.Context) bool
	Open(ctx context.Context)
	Close(ctx context.Context)
}

// Options apply to one Execute call.
type Options struct {
	OutputDir      string
	TempDir        string
	CleanupOnError bool
	MaxRetries     int
	RetryBaseDelay time.Duration
	Progress       func(job.Progress)
}

// Pipeline executes jobs. All collaborators except the local detector and
// composer are optional.
type Pipeline struct {
	detector  detect.Detector
	composer  Composer
	pdf       PDFRenderer
	remote    RemoteService
	breaker   Breaker
	threshold float64
}

// Deps wires a Pipeline.
type Deps struct {
	Detector            detect.Detector
	Composer            Composer
	PDF                 PDFRenderer
	Remote              RemoteService
	Breaker             Breaker
	ConfidenceThreshold float64
}

func New(deps Deps) *Pipeline {
	threshold := deps.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.4
	}
	return &Pipeline{
		detector:  deps.Detector,
		composer:  deps.Composer,
		pdf:       deps.PDF,
		remote:    deps.Remote,
		breaker:   deps.Breaker,
		threshold: threshold,
	}
}

// Execute runs the full pipeline for one job. It returns an error only for
// precondition violations and a stage-1 total failure; composition and PDF
// errors degrade the result instead. Callers must inspect the result's
// counts, not just the absence of an error.
func (p *Pipeline) Execute(ctx context.Context, j *job.Job, opts Options) (*job.Results, error) {
	start := time.Now()
	if err := p.validate(j); err != nil {
		return nil, err
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	strategy := p.resolveStrategy(ctx)
	log.Info().Str("job_id", j.ID).Str("strategy", string(strategy)).
		Int("files", len(j.Files)).Msg("pipeline started")

	results := &job.Results{JobID: j.ID, FailedFiles: map[string]string{}}

	// Stage 1: image processing. The only stage whose total failure fails
	// the job.
	j.Status = job.StatusProcessing
	processed, failures := p.processStage(ctx, j, strategy, opts)
	results.ProcessedImages = processed
	results.FailedFiles = failures
	if len(processed) == 0 {
		metrics.IncStage("processing", "failed")
		err := &StageFailedError{Stage: "processing", Failures: failures}
		if opts.CleanupOnError {
			p.cleanupArtifacts(results)
		}
		j.Status = job.StatusFailed
		metrics.IncJob(string(job.StatusFailed))
		return nil, err
	}
	metrics.IncStage("processing", "success")

	// Stage 2: sheet composition (optional, stage-degrading).
	sheetOpts := j.Options.SheetComposition
	if sheetOpts.Enabled {
		j.Status = job.StatusComposing
		p.report(opts, job.Progress{Stage: "composing", ProcessedImages: len(processed), TotalImages: len(j.Files), Percentage: 100})
		sheets, err := p.composeStage(ctx, processed, sheetOpts)
		if err != nil {
			metrics.IncStage("composing", "failed")
			log.Error().Err(err).Str("job_id", j.ID).Msg("sheet composition failed; continuing without sheets")
		} else {
			metrics.IncStage("composing", "success")
			results.ComposedSheets = sheets
		}
	}

	// Stage 3: PDF (optional, stage-degrading).
	if sheetOpts.Enabled && sheetOpts.GeneratePDF && len(results.ComposedSheets) > 0 {
		j.Status = job.StatusGeneratingPDF
		p.report(opts, job.Progress{Stage: "generating_pdf", ProcessedImages: len(processed), TotalImages: len(j.Files), Percentage: 100})
		pdfPath, err := p.pdfStage(results.ComposedSheets, opts.OutputDir, j.ID)
		if err != nil {
			metrics.IncStage("generating_pdf", "failed")
			log.Error().Err(err).Str("job_id", j.ID).Msg("pdf generation failed; continuing without pdf")
		} else {
			metrics.IncStage("generating_pdf", "success")
			results.PDFPath = pdfPath
		}
	}

	now := time.Now()
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	results.TotalTime = time.Since(start)
	metrics.IncJob(string(job.StatusCompleted))
	log.Info().Str("job_id", j.ID).
		Int("processed", len(results.ProcessedImages)).
		Int("failed", len(results.FailedFiles)).
		Int("sheets", len(results.ComposedSheets)).
		Bool("pdf", results.PDFPath != "").
		Dur("took", results.TotalTime).
		Msg("pipeline completed")
	return results, nil
}

func (p *Pipeline) validate(j *job.Job) error {
	if len(j.Files) == 0 {
		return &ValidationError{Message: "job has no files"}
	}
	if err := j.Options.AspectRatio.Validate(); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if j.Options.SheetComposition.Enabled {
		if err := j.Options.SheetComposition.Layout.Validate(); err != nil {
			return &ValidationError{Message: err.Error()}
		}
	}
	return nil
}

// resolveStrategy picks remote or local exactly once. A breaker in cooldown
// short-circuits to local without a network round trip.
func (p *Pipeline) resolveStrategy(ctx context.Context) ProcessingStrategy {
	if p.remote == nil || !p.remote.Configured() {
		return StrategyLocal
	}
	if p.breaker != nil && p.breaker.IsOpen(ctx) {
		log.Debug().Msg("remote breaker open; using local processing")
		return StrategyLocal
	}
	start := time.Now()
	if err := p.remote.HealthCheck(ctx); err != nil {
		metrics.ObserveRemote("health", "error", time.Since(start))
		if p.breaker != nil {
			p.breaker.Open(ctx)
			metrics.BreakerOpened()
		}
		log.Warn().Err(err).Msg("remote service unhealthy; using local processing")
		return StrategyLocal
	}
	metrics.ObserveRemote("health", "success", time.Since(start))
	if p.breaker != nil {
		// a healthy response resets the cooldown backoff ladder
		p.breaker.Close(ctx)
		metrics.BreakerClosed()
	}
	return StrategyRemote
}

// processStage runs stage 1: batch first when remote and more than one
// file, then the per-image loop for whatever remains.
func (p *Pipeline) processStage(ctx context.Context, j *job.Job, strategy ProcessingStrategy, opts Options) ([]job.ProcessedImage, map[string]string) {
	total := len(j.Files)
	byIndex := make([]*job.ProcessedImage, total)
	failures := map[string]string{}

	if strategy == StrategyRemote && total > 1 {
		if done := p.processBatch(ctx, j, byIndex, opts); done {
			return collect(byIndex, j, failures), failures
		}
		// Any batch-level failure falls back to the per-image loop.
		log.Warn().Str("job_id", j.ID).Msg("batch processing failed; falling back to per-image loop")
	}

	completed := countDone(byIndex)
	for i, f := range j.Files {
		if byIndex[i] != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			failures[f.Name] = err.Error()
			continue
		}
		pi, err := p.processOne(ctx, f, j.Options, strategy, opts)
		completed++
		if err != nil {
			failures[f.Name] = err.Error()
			metrics.IncImage("failed", "")
			log.Warn().Err(err).Str("job_id", j.ID).Str("file", f.Name).Msg("file failed after retries")
		} else {
			byIndex[i] = &pi
			metrics.IncImage("success", string(pi.Strategy))
		}
		p.report(opts, job.Progress{
			Stage:           "processing",
			ProcessedImages: completed,
			TotalImages:     total,
			Percentage:      percent(completed, total),
		})
	}
	return collect(byIndex, j, failures), failures
}

// processBatch issues one remote call for the whole file set and maps the
// response back onto input positions. Echoed paths that match an input use
// that slot; anything else maps positionally by response index. Returns
// false when the batch call itself failed.
func (p *Pipeline) processBatch(ctx context.Context, j *job.Job, byIndex []*job.ProcessedImage, opts Options) bool {
	paths := make([]string, len(j.Files))
	pathIndex := make(map[string]int, len(j.Files))
	for i, f := range j.Files {
		paths[i] = f.Path
		pathIndex[f.Path] = i
	}

	start := time.Now()
	resp, err := p.remote.ProcessBatch(ctx, remote.BatchRequest{
		Images:           paths,
		TargetRatio:      j.Options.AspectRatio,
		FallbackStrategy: string(j.Options.Fallback),
		Threshold:        p.threshold,
		OutputDir:        opts.OutputDir,
	})
	if err != nil {
		metrics.ObserveRemote("process-batch", "error", time.Since(start))
		if p.breaker != nil && isTransientError(err) {
			p.breaker.Open(ctx)
			metrics.BreakerOpened()
		}
		return false
	}
	metrics.ObserveRemote("process-batch", "success", time.Since(start))

	completed := 0
	for respIdx, item := range resp.ProcessedImages {
		idx, ok := pathIndex[item.SourcePath]
		if !ok {
			idx = respIdx
		}
		if idx < 0 || idx >= len(byIndex) || byIndex[idx] != nil {
			continue
		}
		pi := remoteToProcessed(j.Files[idx], j.Options, item)
		byIndex[idx] = &pi
		metrics.IncImage("success", string(pi.Strategy))
		completed++
		p.report(opts, job.Progress{
			Stage:           "processing",
			ProcessedImages: completed,
			TotalImages:     len(j.Files),
			Percentage:      percent(completed, len(j.Files)),
		})
	}
	// Failed batch items flow into the per-image loop, which will retry
	// them individually; the loop picks up every slot left nil.
	return countDone(byIndex) == len(byIndex)
}

// processOne crops a single file, retrying with exponential backoff. On the
// remote strategy a failed remote call degrades to local processing within
// the same attempt.
func (p *Pipeline) processOne(ctx context.Context, f job.File, o job.Options, strategy ProcessingStrategy, opts Options) (job.ProcessedImage, error) {
	var out job.ProcessedImage
	err := withRetry(ctx, opts.MaxRetries, opts.RetryBaseDelay, func(attempt int) error {
		if strategy == StrategyRemote {
			pi, rerr := p.processRemote(ctx, f, o, opts)
			if rerr == nil {
				out = pi
				return nil
			}
			log.Debug().Err(rerr).Str("file", f.Name).Int("attempt", attempt).
				Msg("remote crop failed; trying local for this attempt")
			if p.breaker != nil && isTransientError(rerr) {
				p.breaker.Open(ctx)
				metrics.BreakerOpened()
			}
		}
		pi, lerr := p.processLocal(ctx, f, o, opts)
		if lerr != nil {
			return lerr
		}
		out = pi
		return nil
	})
	return out, err
}

func (p *Pipeline) processRemote(ctx context.Context, f job.File, o job.Options, opts Options) (job.ProcessedImage, error) {
	start := time.Now()
	resp, err := p.remote.CropImage(ctx, remote.CropRequest{
		ImagePath:        f.Path,
		TargetRatio:      o.AspectRatio,
		FallbackStrategy: string(o.Fallback),
		Threshold:        p.threshold,
		OutputPath:       filepath.Join(opts.OutputDir, f.ID+"_processed.jpg"),
	})
	if err != nil {
		metrics.ObserveRemote("crop", "error", time.Since(start))
		return job.ProcessedImage{}, err
	}
	metrics.ObserveRemote("crop", "success", time.Since(start))
	return remoteToProcessed(f, o, resp), nil
}

// processLocal is the always-available path: local detection, crop decision
// and codec apply. A detector error is treated as "no detections", never as
// a file failure.
func (p *Pipeline) processLocal(ctx context.Context, f job.File, o job.Options, opts Options) (job.ProcessedImage, error) {
	start := time.Now()
	dims, err := codec.Size(f.Path)
	if err != nil {
		return job.ProcessedImage{}, fmt.Errorf("read image size: %w", err)
	}
	if err := dims.Validate(); err != nil {
		return job.ProcessedImage{}, err
	}

	var dets []detect.Detection
	if p.detector != nil {
		dets, err = p.detector.Detect(ctx, f.Path, detect.Options{
			Faces: true, People: true, ConfidenceThreshold: p.threshold,
		})
		if err != nil {
			log.Warn().Err(err).Str("file", f.Name).Msg("detection failed; proceeding without detections")
			dets = nil
		}
	}
	result := detect.NewResult(dets)

	// The smart fallback needs pixels for its saliency pass; skip the
	// decode when detections already decide the placement.
	var img image.Image
	if result.Empty() && (o.Fallback == "" || o.Fallback == crop.FallbackSmart) {
		img, _ = codec.Load(f.Path)
	}

	decision := crop.Decide(dims, result, o.AspectRatio, crop.Options{Fallback: o.Fallback, Image: img})

	outPath := filepath.Join(opts.OutputDir, f.ID+"_processed.jpg")
	if _, err := codec.Crop(f.Path, decision.CropArea.BoundingBox, outPath); err != nil {
		return job.ProcessedImage{}, fmt.Errorf("apply crop: %w", err)
	}

	return job.ProcessedImage{
		ID:             uuid.NewString(),
		OriginalFileID: f.ID,
		ProcessedPath:  outPath,
		CropArea:       decision.CropArea,
		AspectRatio:    o.AspectRatio,
		Detections:     result,
		ProcessingTime: time.Since(start),
		Strategy:       decision.Strategy,
	}, nil
}

// composeStage tries remote composition first and falls back to the local
// sheet layout engine on any failure.
func (p *Pipeline) composeStage(ctx context.Context, images []job.ProcessedImage, o job.SheetOptions) ([]job.ComposedSheet, error) {
	orientation := o.Orientation
	if orientation == "" {
		orientation = geometry.Portrait
	}
	if p.remote != nil && p.remote.Configured() && (p.breaker == nil || !p.breaker.IsOpen(ctx)) {
		sheets, err := p.composeRemote(ctx, images, o.Layout, orientation)
		if err == nil {
			return sheets, nil
		}
		log.Warn().Err(err).Msg("remote composition failed; falling back to local sheet engine")
	}
	if p.composer == nil {
		return nil, fmt.Errorf("no local sheet composer configured")
	}
	return p.composer.Compose(images, o.Layout, orientation)
}

func (p *Pipeline) composeRemote(ctx context.Context, images []job.ProcessedImage, layout job.GridLayout, orientation geometry.Orientation) ([]job.ComposedSheet, error) {
	capacity := layout.Capacity()
	var sheets []job.ComposedSheet
	for startIdx := 0; startIdx < len(images); startIdx += capacity {
		end := startIdx + capacity
		if end > len(images) {
			end = len(images)
		}
		chunk := images[startIdx:end]
		paths := make([]string, len(chunk))
		for i, pi := range chunk {
			paths[i] = pi.ProcessedPath
		}
		start := time.Now()
		resp, err := p.remote.ComposeSheet(ctx, remote.ComposeRequest{
			ProcessedImages: paths,
			Layout:          layout,
			Orientation:     orientation,
		})
		if err != nil {
			metrics.ObserveRemote("compose-sheet", "error", time.Since(start))
			return nil, err
		}
		metrics.ObserveRemote("compose-sheet", "success", time.Since(start))
		sheets = append(sheets, job.ComposedSheet{
			ID:          uuid.NewString(),
			SheetPath:   resp.OutputPath,
			Layout:      layout,
			Orientation: orientation,
			Images:      chunk,
			EmptySlots:  capacity - len(chunk),
			CreatedAt:   time.Now(),
		})
	}
	return sheets, nil
}

// pdfStage validates every sheet file exists before invoking the renderer,
// reporting which paths are missing.
func (p *Pipeline) pdfStage(sheets []job.ComposedSheet, outputDir, jobID string) (string, error) {
	if p.pdf == nil {
		return "", fmt.Errorf("no pdf renderer configured")
	}
	var missing []string
	for _, s := range sheets {
		if _, err := os.Stat(s.SheetPath); err != nil {
			missing = append(missing, s.SheetPath)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("sheet files missing before pdf render: %v", missing)
	}
	return p.pdf.Render(sheets, outputDir, &pdfgen.Metadata{JobID: jobID})
}

func (p *Pipeline) report(opts Options, prog job.Progress) {
	if opts.Progress != nil {
		opts.Progress(prog)
	}
}

func remoteToProcessed(f job.File, o job.Options, resp remote.CropResponse) job.ProcessedImage {
	strategy := crop.Strategy(resp.Strategy)
	if strategy == "" {
		strategy = crop.StrategyPeopleCentered
	}
	conf := resp.Confidence
	if conf == 0 {
		conf = crop.FallbackConfidence
	}
	return job.ProcessedImage{
		ID:             uuid.NewString(),
		OriginalFileID: f.ID,
		ProcessedPath:  resp.ProcessedPath,
		CropArea:       crop.CropArea{BoundingBox: resp.CropCoordinates, Confidence: conf},
		AspectRatio:    o.AspectRatio,
		Detections:     detect.NewResult(resp.Detections),
		ProcessingTime: time.Duration(resp.ProcessingTimeMs) * time.Millisecond,
		Strategy:       strategy,
	}
}

// collect flattens the positional slice, preserving input file order.
func collect(byIndex []*job.ProcessedImage, j *job.Job, failures map[string]string) []job.ProcessedImage {
	out := make([]job.ProcessedImage, 0, len(byIndex))
	for i, pi := range byIndex {
		if pi != nil {
			out = append(out, *pi)
		} else if _, recorded := failures[j.Files[i].Name]; !recorded {
			failures[j.Files[i].Name] = "no result produced"
		}
	}
	return out
}

func countDone(byIndex []*job.ProcessedImage) int {
	n := 0
	for _, pi := range byIndex {
		if pi != nil {
			n++
		}
	}
	return n
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
