// Package server is the HTTP surface: job submission, progress polling,
// artifact download and health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pankaj139/pixelforge/internal/crop"
	"github.com/pankaj139/pixelforge/internal/filetype"
	"github.com/pankaj139/pixelforge/internal/geometry"
	"github.com/pankaj139/pixelforge/internal/job"
	"github.com/pankaj139/pixelforge/internal/metrics"
	"github.com/pankaj139/pixelforge/internal/pdfgen"
	"github.com/pankaj139/pixelforge/internal/statuscheck"
	"github.com/pankaj139/pixelforge/internal/store"
)

// Queue is what the server needs from the job queue.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	CancelJob(ctx context.Context, jobID string) error
}

// StatusStore is what the server needs from the status store.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
	SetFileJobMapping(ctx context.Context, fileID, jobID string) error
	GetJobByFileID(ctx context.Context, fileID string) (string, error)
}

// Config bounds uploads and points at the working directories.
type Config struct {
	UploadDir     string
	MaxFileSizeMB int
	MaxBatchSize  int
}

// ArtifactPurger removes a job's archived objects. Optional.
type ArtifactPurger interface {
	DeleteJobArtifacts(ctx context.Context, jobID string) (int, error)
}

// Dependencies wires the server.
type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Checker *statuscheck.Checker
	Types   *filetype.Detector
	Archive ArtifactPurger
	Config  Config
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.Config.UploadDir == "" { deps.Config.UploadDir = "uploads" }
	if deps.Config.MaxBatchSize <= 0 { deps.Config.MaxBatchSize = 50 }
	return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/jobs", s.handleSubmit)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobSubpath)
	mux.HandleFunc("/api/v1/files/", s.handleFileSubpath)
	mux.HandleFunc("/webhook/cancel_job", s.handleCancel)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.deps.Checker.Summary(r.Context())
	code := http.StatusOK
	if !s.deps.Checker.Healthy(r.Context()) { code = http.StatusServiceUnavailable }
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(summary)
}

type submitResp struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Files   int    `json:"files"`
	Message string `json:"message,omitempty"`
}

// handleSubmit accepts a multipart form with one or more "images" parts plus
// option fields, stores the uploads locally and enqueues the job.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest); return
	}
	parts := r.MultipartForm.File["images"]
	if len(parts) == 0 { http.Error(w, "missing images", http.StatusBadRequest); return }
	if len(parts) > s.deps.Config.MaxBatchSize {
		http.Error(w, fmt.Sprintf("too many images: %d (limit %d)", len(parts), s.deps.Config.MaxBatchSize), http.StatusBadRequest)
		return
	}

	opts, err := parseOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest); return
	}

	jobID := uuid.NewString()
	uploadDir := filepath.Join(s.deps.Config.UploadDir, jobID)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError); return
	}

	files := make([]job.File, 0, len(parts))
	for _, hdr := range parts {
		f, err := hdr.Open()
		if err != nil { http.Error(w, "cannot read upload", http.StatusBadRequest); return }
		name := hdr.Filename
		if name == "" { name = "image" }
		fileID := uuid.NewString()
		localPath := filepath.Join(uploadDir, fileID+"_"+filepath.Base(name))
		out, err := os.Create(localPath)
		if err != nil { f.Close(); http.Error(w, "cannot save upload", http.StatusInternalServerError); return }
		_, cpErr := io.Copy(out, f)
		f.Close()
		out.Close()
		if cpErr != nil { http.Error(w, "write failed", http.StatusInternalServerError); return }

		if s.deps.Types != nil {
			if _, err := s.deps.Types.Validate(localPath); err != nil {
				http.Error(w, fmt.Sprintf("%s: %v", name, err), http.StatusUnsupportedMediaType)
				return
			}
		}
		files = append(files, job.File{ID: fileID, Name: name, Path: localPath})
		_ = s.deps.Status.SetFileJobMapping(r.Context(), fileID, jobID)
	}

	j := job.Job{
		ID:        jobID,
		Status:    job.StatusPending,
		Files:     files,
		Options:   opts,
		CreatedAt: time.Now(),
	}
	payload, _ := json.Marshal(j)
	if err := s.deps.Queue.Enqueue(r.Context(), payload); err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable); return
	}

	start := time.Now()
	_ = s.deps.Status.Set(r.Context(), jobID, store.Status{
		Status: string(job.StatusPending), Total: len(files), Message: "queued", Start: &start,
	})
	log.Info().Str("job_id", jobID).Int("files", len(files)).Msg("job submitted")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(submitResp{Status: "ok", JobID: jobID, Files: len(files), Message: "Job created"})
}

func parseOptions(r *http.Request) (job.Options, error) {
	var opts job.Options

	rw := formInt(r, "ratio_width", 0)
	rh := formInt(r, "ratio_height", 0)
	if rw <= 0 || rh <= 0 {
		return opts, fmt.Errorf("ratio_width and ratio_height are required positive integers")
	}
	opts.AspectRatio = geometry.AspectRatio{Width: rw, Height: rh, Name: r.FormValue("ratio_name")}
	if err := opts.AspectRatio.Validate(); err != nil {
		return opts, err
	}

	switch fb := r.FormValue("fallback_strategy"); fb {
	case "", string(crop.FallbackSmart):
		opts.Fallback = crop.FallbackSmart
	case string(crop.FallbackCenter), string(crop.FallbackRuleOfThirds):
		opts.Fallback = crop.FallbackStrategy(fb)
	default:
		return opts, fmt.Errorf("unknown fallback_strategy: %s", fb)
	}

	if r.FormValue("compose_sheets") == "true" || r.FormValue("compose_sheets") == "on" {
		opts.SheetComposition = job.SheetOptions{
			Enabled: true,
			Layout: job.GridLayout{
				Rows:    formInt(r, "grid_rows", 2),
				Columns: formInt(r, "grid_columns", 2),
				Name:    r.FormValue("grid_name"),
			},
			Orientation: geometry.Orientation(r.FormValue("sheet_orientation")),
			GeneratePDF: r.FormValue("generate_pdf") == "true" || r.FormValue("generate_pdf") == "on",
		}
		if opts.SheetComposition.Orientation == "" {
			opts.SheetComposition.Orientation = geometry.Portrait
		}
		if err := opts.SheetComposition.Layout.Validate(); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func formInt(r *http.Request, key string, def int) int {
	v := r.FormValue(key)
	if v == "" { return def }
	if n, err := strconv.Atoi(v); err == nil { return n }
	return def
}

// handleJobSubpath fans out /api/v1/jobs/{id}/progress, /results,
// /download/pdf, /preview and DELETE /api/v1/jobs/{id}.
func (s *Server) handleJobSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound); return
	}
	jobID := parts[0]
	if len(parts) == 1 {
		if r.Method == http.MethodDelete {
			s.handleDelete(w, r, jobID)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	switch {
	case parts[1] == "progress":
		s.handleProgress(w, r, jobID)
	case parts[1] == "results":
		s.handleResults(w, r, jobID)
	case parts[1] == "preview":
		s.handlePreview(w, r, jobID)
	case parts[1] == "download" && len(parts) > 2 && parts[2] == "pdf":
		s.handleDownloadPDF(w, r, jobID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, jobID string) {
	st, ok, err := s.deps.Status.Get(r.Context(), jobID)
	if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
	if !ok { http.Error(w, "not found", http.StatusNotFound); return }
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id":           jobID,
		"status":           st.Status,
		"stage":            st.Stage,
		"processed_images": st.Processed,
		"total_images":     st.Total,
		"percentage":       st.Percentage,
		"message":          st.Message,
		"start_time":       st.Start,
		"end_time":         st.End,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, jobID string) {
	st, ok, err := s.deps.Status.Get(r.Context(), jobID)
	if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
	if !ok { http.Error(w, "not found", http.StatusNotFound); return }
	if st.Results == nil {
		http.Error(w, "not ready", http.StatusAccepted); return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st.Results)
}

func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request, jobID string) {
	st, ok, err := s.deps.Status.Get(r.Context(), jobID)
	if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
	if !ok { http.Error(w, "not found", http.StatusNotFound); return }
	if st.Results == nil || st.Results.PDFPath == "" {
		http.Error(w, "pdf not available", http.StatusNotFound); return
	}
	f, err := os.Open(st.Results.PDFPath)
	if err != nil { http.Error(w, "failed to read", http.StatusInternalServerError); return }
	defer f.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=sheets_%s.pdf", jobID))
	_, _ = io.Copy(w, f)
}

// handleFileSubpath resolves /api/v1/files/{fileID}/job for clients that
// only kept per-file IDs from the submit response.
func (s *Server) handleFileSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/files/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "job" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	jobID, err := s.deps.Status.GetJobByFileID(r.Context(), parts[0])
	if err != nil || jobID == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"file_id": parts[0], "job_id": jobID})
}

// handlePreview renders one page of the produced PDF as a JPEG so clients
// can show a thumbnail without downloading the document.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, jobID string) {
	st, ok, err := s.deps.Status.Get(r.Context(), jobID)
	if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
	if !ok { http.Error(w, "not found", http.StatusNotFound); return }
	if st.Results == nil || st.Results.PDFPath == "" {
		http.Error(w, "pdf not available", http.StatusNotFound); return
	}
	page := formInt(r, "page", 1)
	data, pw, ph, err := pdfgen.RenderPreviewJPEG(st.Results.PDFPath, page, 150, 85)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Int("page", page).Msg("preview render failed")
		http.Error(w, "preview failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Preview-Width", strconv.Itoa(pw))
	w.Header().Set("X-Preview-Height", strconv.Itoa(ph))
	_, _ = w.Write(data)
}

// handleDelete cancels a pending job and purges its uploads and archived
// artifacts.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.deps.Queue.CancelJob(r.Context(), jobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError); return
	}
	_ = os.RemoveAll(filepath.Join(s.deps.Config.UploadDir, jobID))
	if s.deps.Archive != nil {
		if n, err := s.deps.Archive.DeleteJobArtifacts(r.Context(), jobID); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("artifact purge failed")
		} else if n > 0 {
			log.Info().Str("job_id", jobID).Int("purged", n).Msg("archived artifacts purged")
		}
	}
	log.Info().Str("job_id", jobID).Msg("job deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" { http.Error(w, "missing job_id", http.StatusBadRequest); return }
	if err := s.deps.Queue.CancelJob(r.Context(), jobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError); return
	}
	log.Info().Str("job_id", jobID).Msg("job cancelled via webhook")
	w.WriteHeader(http.StatusNoContent)
}
