package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
	"github.com/pankaj139/pixelforge/internal/job"
	"github.com/pankaj139/pixelforge/internal/remote"
)

type stubDetector struct {
	dets []detect.Detection
	err  error
}

func (s *stubDetector) Detect(ctx context.Context, imagePath string, opts detect.Options) ([]detect.Detection, error) {
	return s.dets, s.err
}

type stubComposer struct {
	sheets []job.ComposedSheet
	err    error
	calls  int
}

func (s *stubComposer) Compose(images []job.ProcessedImage, layout job.GridLayout, orientation geometry.Orientation) ([]job.ComposedSheet, error) {
	s.calls++
	return s.sheets, s.err
}

type stubBreaker struct {
	open   bool
	opened int
	closed int
}

func (s *stubBreaker) IsOpen(ctx context.Context) bool { return s.open }
func (s *stubBreaker) Open(ctx context.Context)        { s.opened++; s.open = true }
func (s *stubBreaker) Close(ctx context.Context)       { s.closed++; s.open = false }

type stubRemote struct {
	configured bool
	healthErr  error
	batchResp  remote.BatchResponse
	batchErr   error
	cropResp   remote.CropResponse
	cropErr    error
	batchCalls int
	cropCalls  int
}

func (s *stubRemote) Configured() bool                          { return s.configured }
func (s *stubRemote) HealthCheck(ctx context.Context) error     { return s.healthErr }
func (s *stubRemote) CropImage(ctx context.Context, req remote.CropRequest) (remote.CropResponse, error) {
	s.cropCalls++
	return s.cropResp, s.cropErr
}
func (s *stubRemote) ProcessBatch(ctx context.Context, req remote.BatchRequest) (remote.BatchResponse, error) {
	s.batchCalls++
	return s.batchResp, s.batchErr
}
func (s *stubRemote) ComposeSheet(ctx context.Context, req remote.ComposeRequest) (remote.ComposeResponse, error) {
	return remote.ComposeResponse{}, fmt.Errorf("not implemented")
}

func writeImage(t *testing.T, dir, name string, w, h int) job.File {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 180, G: 40, B: 90, A: 255})
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return job.File{ID: name, Name: name, Path: path}
}

func testOptions(dir string) Options {
	return Options{
		OutputDir:      filepath.Join(dir, "out"),
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	}
}

func portraitJob(files ...job.File) *job.Job {
	return &job.Job{
		ID:      "job-1",
		Files:   files,
		Options: job.Options{AspectRatio: geometry.AspectRatio{Width: 4, Height: 6}},
	}
}

func TestExecuteLocalProcessesAllFiles(t *testing.T) {
	dir := t.TempDir()
	files := []job.File{
		writeImage(t, dir, "a.jpg", 600, 400),
		writeImage(t, dir, "b.jpg", 500, 500),
		writeImage(t, dir, "c.jpg", 400, 700),
	}

	p := New(Deps{Detector: &stubDetector{dets: []detect.Detection{{
		Kind: detect.KindFace, Box: geometry.BoundingBox{X: 100, Y: 100, Width: 80, Height: 80}, Confidence: 0.9,
	}}}})

	var progress []job.Progress
	opts := testOptions(dir)
	opts.Progress = func(pr job.Progress) { progress = append(progress, pr) }

	j := portraitJob(files...)
	results, err := p.Execute(context.Background(), j, opts)
	require.NoError(t, err)
	require.Len(t, results.ProcessedImages, 3)
	assert.Empty(t, results.FailedFiles)
	assert.Equal(t, job.StatusCompleted, j.Status)
	require.NotNil(t, j.CompletedAt)

	// input order preserved
	for i, f := range files {
		assert.Equal(t, f.ID, results.ProcessedImages[i].OriginalFileID)
	}
	// each processed file exists and carries the requested ratio
	for _, pi := range results.ProcessedImages {
		_, statErr := os.Stat(pi.ProcessedPath)
		assert.NoError(t, statErr)
		assert.Equal(t, geometry.AspectRatio{Width: 4, Height: 6}, pi.AspectRatio)
	}

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, 3, last.ProcessedImages)
	assert.Equal(t, 100, last.Percentage)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].ProcessedImages, progress[i-1].ProcessedImages)
	}
}

func TestExecutePartialFailureIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	good := writeImage(t, dir, "good.jpg", 600, 400)
	missing := job.File{ID: "gone", Name: "gone.jpg", Path: filepath.Join(dir, "gone.jpg")}
	alsoGood := writeImage(t, dir, "also.jpg", 300, 300)

	p := New(Deps{Detector: &stubDetector{}})
	j := portraitJob(good, missing, alsoGood)

	results, err := p.Execute(context.Background(), j, testOptions(dir))
	require.NoError(t, err)
	require.Len(t, results.ProcessedImages, 2)
	require.Contains(t, results.FailedFiles, "gone.jpg")
	assert.Equal(t, "good.jpg", results.ProcessedImages[0].OriginalFileID)
	assert.Equal(t, "also.jpg", results.ProcessedImages[1].OriginalFileID)
}

func TestExecuteAllFilesFailedReturnsStageError(t *testing.T) {
	dir := t.TempDir()
	j := portraitJob(
		job.File{ID: "x", Name: "x.jpg", Path: filepath.Join(dir, "x.jpg")},
		job.File{ID: "y", Name: "y.jpg", Path: filepath.Join(dir, "y.jpg")},
	)

	p := New(Deps{Detector: &stubDetector{}})
	_, err := p.Execute(context.Background(), j, testOptions(dir))
	require.Error(t, err)

	var stageErr *StageFailedError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "processing", stageErr.Stage)
	assert.Len(t, stageErr.Failures, 2)
	assert.Contains(t, err.Error(), "x.jpg")
	assert.Contains(t, err.Error(), "y.jpg")
	assert.Equal(t, job.StatusFailed, j.Status)
}

func TestExecuteValidation(t *testing.T) {
	dir := t.TempDir()
	p := New(Deps{Detector: &stubDetector{}})

	var valErr *ValidationError

	_, err := p.Execute(context.Background(), &job.Job{ID: "empty"}, testOptions(dir))
	require.ErrorAs(t, err, &valErr)

	j := portraitJob(job.File{ID: "f", Name: "f.jpg", Path: "f.jpg"})
	j.Options.AspectRatio = geometry.AspectRatio{Width: 0, Height: 6}
	_, err = p.Execute(context.Background(), j, testOptions(dir))
	require.ErrorAs(t, err, &valErr)

	j = portraitJob(job.File{ID: "f", Name: "f.jpg", Path: "f.jpg"})
	j.Options.SheetComposition = job.SheetOptions{Enabled: true, Layout: job.GridLayout{Rows: 0, Columns: 2}}
	_, err = p.Execute(context.Background(), j, testOptions(dir))
	require.ErrorAs(t, err, &valErr)
}

func TestComposeFailureDegradesJob(t *testing.T) {
	dir := t.TempDir()
	f := writeImage(t, dir, "a.jpg", 600, 400)

	composer := &stubComposer{err: fmt.Errorf("disk full")}
	p := New(Deps{Detector: &stubDetector{}, Composer: composer})

	j := portraitJob(f)
	j.Options.SheetComposition = job.SheetOptions{Enabled: true, Layout: job.GridLayout{Rows: 2, Columns: 2}}

	results, err := p.Execute(context.Background(), j, testOptions(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, composer.calls)
	assert.Len(t, results.ProcessedImages, 1)
	assert.Empty(t, results.ComposedSheets)
	assert.Empty(t, results.PDFPath)
	assert.Equal(t, job.StatusCompleted, j.Status)
}

func TestPDFSkippedWhenSheetFilesMissing(t *testing.T) {
	dir := t.TempDir()
	f := writeImage(t, dir, "a.jpg", 600, 400)

	composer := &stubComposer{sheets: []job.ComposedSheet{{ID: "s1", SheetPath: filepath.Join(dir, "missing_sheet.jpg")}}}
	p := New(Deps{Detector: &stubDetector{}, Composer: composer})

	j := portraitJob(f)
	j.Options.SheetComposition = job.SheetOptions{
		Enabled: true, Layout: job.GridLayout{Rows: 1, Columns: 1}, GeneratePDF: true,
	}

	results, err := p.Execute(context.Background(), j, testOptions(dir))
	require.NoError(t, err)
	assert.Len(t, results.ComposedSheets, 1)
	assert.Empty(t, results.PDFPath, "pdf must be skipped when a sheet file is missing")
}

func TestResolveStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("no remote configured", func(t *testing.T) {
		p := New(Deps{Detector: &stubDetector{}})
		assert.Equal(t, StrategyLocal, p.resolveStrategy(ctx))

		p = New(Deps{Detector: &stubDetector{}, Remote: &stubRemote{configured: false}})
		assert.Equal(t, StrategyLocal, p.resolveStrategy(ctx))
	})

	t.Run("breaker open short-circuits", func(t *testing.T) {
		r := &stubRemote{configured: true}
		p := New(Deps{Detector: &stubDetector{}, Remote: r, Breaker: &stubBreaker{open: true}})
		assert.Equal(t, StrategyLocal, p.resolveStrategy(ctx))
	})

	t.Run("unhealthy remote opens breaker", func(t *testing.T) {
		b := &stubBreaker{}
		r := &stubRemote{configured: true, healthErr: fmt.Errorf("connection refused")}
		p := New(Deps{Detector: &stubDetector{}, Remote: r, Breaker: b})
		assert.Equal(t, StrategyLocal, p.resolveStrategy(ctx))
		assert.Equal(t, 1, b.opened)
	})

	t.Run("healthy remote wins", func(t *testing.T) {
		r := &stubRemote{configured: true}
		b := &stubBreaker{}
		p := New(Deps{Detector: &stubDetector{}, Remote: r, Breaker: b})
		assert.Equal(t, StrategyRemote, p.resolveStrategy(ctx))
		assert.Equal(t, 1, b.closed, "healthy check resets the cooldown")
	})
}

func TestProcessBatchMapsByEchoThenPosition(t *testing.T) {
	dir := t.TempDir()
	a := writeImage(t, dir, "a.jpg", 400, 300)
	b := writeImage(t, dir, "b.jpg", 400, 300)

	r := &stubRemote{
		configured: true,
		batchResp: remote.BatchResponse{
			ProcessedImages: []remote.CropResponse{
				// echoed out of order: path mapping must fix it
				{SourcePath: b.Path, ProcessedPath: filepath.Join(dir, "b_out.jpg"), Strategy: "people-centered", Confidence: 0.8},
				{SourcePath: a.Path, ProcessedPath: filepath.Join(dir, "a_out.jpg"), Strategy: "people-centered", Confidence: 0.9},
			},
		},
	}
	p := New(Deps{Detector: &stubDetector{}, Remote: r})

	j := portraitJob(a, b)
	byIndex := make([]*job.ProcessedImage, 2)
	done := p.processBatch(context.Background(), j, byIndex, testOptions(dir))
	require.True(t, done)
	require.NotNil(t, byIndex[0])
	require.NotNil(t, byIndex[1])
	assert.Equal(t, filepath.Join(dir, "a_out.jpg"), byIndex[0].ProcessedPath)
	assert.Equal(t, filepath.Join(dir, "b_out.jpg"), byIndex[1].ProcessedPath)
	assert.Equal(t, "a.jpg", byIndex[0].OriginalFileID)
}

func TestProcessBatchPositionalFallback(t *testing.T) {
	dir := t.TempDir()
	a := writeImage(t, dir, "a.jpg", 400, 300)
	b := writeImage(t, dir, "b.jpg", 400, 300)

	r := &stubRemote{
		configured: true,
		batchResp: remote.BatchResponse{
			ProcessedImages: []remote.CropResponse{
				{ProcessedPath: filepath.Join(dir, "first.jpg")},
				{ProcessedPath: filepath.Join(dir, "second.jpg")},
			},
		},
	}
	p := New(Deps{Detector: &stubDetector{}, Remote: r})

	j := portraitJob(a, b)
	byIndex := make([]*job.ProcessedImage, 2)
	done := p.processBatch(context.Background(), j, byIndex, testOptions(dir))
	require.True(t, done)
	assert.Equal(t, filepath.Join(dir, "first.jpg"), byIndex[0].ProcessedPath)
	assert.Equal(t, filepath.Join(dir, "second.jpg"), byIndex[1].ProcessedPath)
}

func TestBatchFailureFallsBackToPerImage(t *testing.T) {
	dir := t.TempDir()
	a := writeImage(t, dir, "a.jpg", 400, 300)
	b := writeImage(t, dir, "b.jpg", 400, 300)

	breaker := &stubBreaker{}
	r := &stubRemote{
		configured: true,
		batchErr:   fmt.Errorf("connection reset"),
		cropErr:    fmt.Errorf("connection reset"),
	}
	p := New(Deps{Detector: &stubDetector{}, Remote: r, Breaker: breaker})

	j := portraitJob(a, b)
	results, err := p.Execute(context.Background(), j, testOptions(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, r.batchCalls)
	// both images still processed through the local fallback
	assert.Len(t, results.ProcessedImages, 2)
	assert.True(t, breaker.open, "transient remote failure opens the breaker")
}

func TestCleanupArtifactsRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	mk := func(name string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		return path
	}
	results := &job.Results{
		JobID:           "job-1",
		ProcessedImages: []job.ProcessedImage{{ProcessedPath: mk("p1.jpg")}, {ProcessedPath: mk("p2.jpg")}},
		ComposedSheets:  []job.ComposedSheet{{SheetPath: mk("s1.jpg")}},
		PDFPath:         mk("out.pdf"),
	}

	p := New(Deps{Detector: &stubDetector{}})
	p.cleanupArtifacts(results)

	for _, path := range []string{"p1.jpg", "p2.jpg", "s1.jpg", "out.pdf"} {
		_, err := os.Stat(filepath.Join(dir, path))
		assert.True(t, os.IsNotExist(err), "%s should be removed", path)
	}
}

func TestSweepTempDir(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed := SweepTempDir(dir, 24*time.Hour)
	assert.Equal(t, 1, removed)
	_, err := os.Stat(fresh)
	assert.NoError(t, err)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 0))
	assert.Equal(t, 33, percent(1, 3))
	assert.Equal(t, 67, percent(2, 3))
	assert.Equal(t, 100, percent(3, 3))
}
