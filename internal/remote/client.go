// Package remote is the HTTP client for the optional image-processing
// acceleration service. The orchestrator degrades to the local path on any
// transport or protocol error from here.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
	"github.com/pankaj139/pixelforge/internal/job"
)

// HTTPError is a non-2xx response from the remote service.
type HTTPError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// Client talks to the remote processing service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the service at baseURL. timeout caps each call;
// stage-level deadlines come from the caller's context.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Configured reports whether a base URL was supplied at all.
func (c *Client) Configured() bool { return c.baseURL != "" }

// HealthCheck probes the service's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Endpoint: "/health"}
	}
	return nil
}

// CropRequest asks the service to crop a single image.
type CropRequest struct {
	ImagePath        string               `json:"image_path"`
	TargetRatio      geometry.AspectRatio `json:"target_aspect_ratio"`
	FallbackStrategy string               `json:"fallback_strategy,omitempty"`
	Threshold        float64              `json:"confidence_threshold,omitempty"`
	OutputPath       string               `json:"output_path,omitempty"`
}

// CropResponse mirrors the service's crop result. SourcePath echoes the
// input path; batch consumers fall back to positional mapping when the echo
// matches no input.
type CropResponse struct {
	SourcePath       string               `json:"source_path,omitempty"`
	ProcessedPath    string               `json:"processed_path"`
	CropCoordinates  geometry.BoundingBox `json:"crop_coordinates"`
	FinalDimensions  geometry.Dimensions  `json:"final_dimensions"`
	Strategy         string               `json:"strategy,omitempty"`
	Confidence       float64              `json:"confidence,omitempty"`
	Detections       []detect.Detection   `json:"detections,omitempty"`
	ProcessingTimeMs int64                `json:"processing_time_ms"`
}

// CropImage crops one image remotely.
func (c *Client) CropImage(ctx context.Context, req CropRequest) (CropResponse, error) {
	var resp CropResponse
	err := c.post(ctx, "/api/v1/crop", req, &resp)
	return resp, err
}

// DetectRequest asks for face/person boxes only.
type DetectRequest struct {
	ImagePath string   `json:"image_path"`
	Types     []string `json:"detection_types"`
	Threshold float64  `json:"confidence_threshold"`
}

type detectResponse struct {
	Detections []detect.Detection `json:"detections"`
}

// DetectObjects runs remote detection on one image.
func (c *Client) DetectObjects(ctx context.Context, req DetectRequest) ([]detect.Detection, error) {
	var resp detectResponse
	if err := c.post(ctx, "/api/v1/detect", req, &resp); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

// BatchRequest crops several images in one call.
type BatchRequest struct {
	Images           []string             `json:"images"`
	TargetRatio      geometry.AspectRatio `json:"target_aspect_ratio"`
	FallbackStrategy string               `json:"fallback_strategy,omitempty"`
	Threshold        float64              `json:"confidence_threshold,omitempty"`
	OutputDir        string               `json:"output_dir,omitempty"`
}

// BatchFailure names one image the service could not process.
type BatchFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BatchResponse carries per-image results plus failures.
type BatchResponse struct {
	ProcessedImages []CropResponse `json:"processed_images"`
	FailedImages    []BatchFailure `json:"failed_images"`
	TotalTimeMs     int64          `json:"total_processing_time_ms"`
}

// ProcessBatch crops a batch of images remotely.
func (c *Client) ProcessBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	var resp BatchResponse
	err := c.post(ctx, "/api/v1/process-batch", req, &resp)
	return resp, err
}

// ComposeRequest asks the service to composite processed images onto a
// grid sheet.
type ComposeRequest struct {
	ProcessedImages []string             `json:"processed_images"`
	Layout          job.GridLayout       `json:"grid_layout"`
	Orientation     geometry.Orientation `json:"sheet_orientation"`
	OutputPath      string               `json:"output_path,omitempty"`
}

// ComposeResponse is the composed sheet location and size.
type ComposeResponse struct {
	OutputPath string              `json:"output_path"`
	Dimensions geometry.Dimensions `json:"sheet_dimensions"`
}

// ComposeSheet composes one sheet remotely.
func (c *Client) ComposeSheet(ctx context.Context, req ComposeRequest) (ComposeResponse, error) {
	var resp ComposeResponse
	err := c.post(ctx, "/api/v1/compose-sheet", req, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(b), Endpoint: endpoint}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
