package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/pankaj139/pixelforge/internal/config"
	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/filetype"
	"github.com/pankaj139/pixelforge/internal/limiter"
	logpkg "github.com/pankaj139/pixelforge/internal/logger"
	"github.com/pankaj139/pixelforge/internal/metrics"
	"github.com/pankaj139/pixelforge/internal/pdfgen"
	"github.com/pankaj139/pixelforge/internal/pipeline"
	"github.com/pankaj139/pixelforge/internal/queue"
	"github.com/pankaj139/pixelforge/internal/remote"
	"github.com/pankaj139/pixelforge/internal/server"
	"github.com/pankaj139/pixelforge/internal/sheet"
	"github.com/pankaj139/pixelforge/internal/statuscheck"
	"github.com/pankaj139/pixelforge/internal/storage"
	"github.com/pankaj139/pixelforge/internal/store"
	"github.com/pankaj139/pixelforge/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	// Status store
	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	// Local face detector
	detector, err := detect.NewPigoDetector(cfg.Detector.CascadePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Detector.CascadePath).Msg("failed to load face cascade")
	}

	// Optional remote service with breaker
	var remoteSvc pipeline.RemoteService
	var breaker pipeline.Breaker
	if cfg.Remote.URL != "" {
		lim, err := limiter.New(limiter.Options{
			RedisURL:    cfg.Queue.RedisURL,
			MaxInflight: cfg.Remote.MaxInflight,
			BaseBackoff: cfg.Remote.BreakerBase,
			MaxBackoff:  cfg.Remote.BreakerMax,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init remote breaker")
		}
		defer lim.CloseClient()
		remoteSvc = &remote.Throttled{Client: remote.New(cfg.Remote.URL, cfg.Remote.RequestTimeout), Slots: lim}
		breaker = lim.For("remote")
	}

	// Optional S3 archiver
	var archiver worker.Archiver
	var fetcher worker.Fetcher
	var purger server.ArtifactPurger
	if cfg.Storage.S3Bucket != "" {
		s3c, err := storage.NewS3Client(context.Background(), cfg.Storage.S3Bucket, cfg.Storage.Prefix)
		if err != nil {
			log.Warn().Err(err).Msg("S3 archival disabled")
		} else {
			archiver = s3c
			fetcher = s3c
			purger = s3c
		}
	}

	pipe := pipeline.New(pipeline.Deps{
		Detector:            detector,
		Composer:            sheet.NewComposer(cfg.Pipeline.OutputDir, sheet.A4Page),
		PDF:                 pdfgen.NewRenderer(),
		Remote:              remoteSvc,
		Breaker:             breaker,
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
	})

	// HTTP server
	checker := statuscheck.New(statuscheck.Options{
		Redis:       rq,
		S3Bucket:    cfg.Storage.S3Bucket,
		RemoteURL:   cfg.Remote.URL,
		CascadePath: cfg.Detector.CascadePath,
	})
	srv := server.New(server.Dependencies{
		Queue:   rq,
		Status:  rs,
		Checker: checker,
		Types:   filetype.New(int64(cfg.Pipeline.MaxFileSizeMB) << 20),
		Archive: purger,
		Config: server.Config{
			UploadDir:     cfg.Pipeline.UploadDir,
			MaxFileSizeMB: cfg.Pipeline.MaxFileSizeMB,
			MaxBatchSize:  cfg.Pipeline.MaxBatchSize,
		},
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	// Worker pool (optional)
	runWorker := os.Getenv("RUN_WORKER")
	if runWorker == "" || runWorker == "1" || runWorker == "true" {
		wrk := worker.New(worker.Config{
			Concurrency:    cfg.Worker.Concurrency,
			MaxJobAttempts: cfg.Worker.MaxJobAttempts,
			RequeueDelay:   cfg.Worker.RequeueDelay,
			PipelineOpts: pipeline.Options{
				OutputDir:      cfg.Pipeline.OutputDir,
				TempDir:        cfg.Pipeline.TempDir,
				CleanupOnError: cfg.Pipeline.CleanupOnError,
				MaxRetries:     cfg.Pipeline.MaxRetries,
				RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
			},
		}, rq, rs, pipe, archiver, fetcher)
		wrk.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = wrk.Stop(ctx)
		}()
	}

	port := os.Getenv("PORT")
	if port == "" { port = "8080" }
	httpSrv := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
