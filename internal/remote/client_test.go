package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj139/pixelforge/internal/detect"
	"github.com/pankaj139/pixelforge/internal/geometry"
)

func TestConfigured(t *testing.T) {
	assert.False(t, New("", time.Second).Configured())
	assert.True(t, New("http://localhost:9000", time.Second).Configured())
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestHealthCheckFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).HealthCheck(context.Background())
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestCropImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/crop", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CropRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/tmp/in.jpg", req.ImagePath)
		assert.Equal(t, 4, req.TargetRatio.Width)

		_ = json.NewEncoder(w).Encode(CropResponse{
			SourcePath:      req.ImagePath,
			ProcessedPath:   "/tmp/out.jpg",
			CropCoordinates: geometry.BoundingBox{X: 10, Y: 0, Width: 400, Height: 600},
			Strategy:        "people-centered",
			Confidence:      0.87,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.CropImage(context.Background(), CropRequest{
		ImagePath:   "/tmp/in.jpg",
		TargetRatio: geometry.AspectRatio{Width: 4, Height: 6},
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.jpg", resp.ProcessedPath)
	assert.Equal(t, 400, resp.CropCoordinates.Width)
	assert.InDelta(t, 0.87, resp.Confidence, 1e-9)
}

func TestDetectObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/detect", r.URL.Path)

		var req DetectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"face", "person"}, req.Types)

		_ = json.NewEncoder(w).Encode(detectResponse{Detections: []detect.Detection{
			{Kind: detect.KindFace, Box: geometry.BoundingBox{X: 40, Y: 20, Width: 120, Height: 120}, Confidence: 0.92},
			{Kind: detect.KindPerson, Box: geometry.BoundingBox{X: 10, Y: 20, Width: 200, Height: 560}, Confidence: 0.81},
		}})
	}))
	defer srv.Close()

	dets, err := New(srv.URL, time.Second).DetectObjects(context.Background(), DetectRequest{
		ImagePath: "/tmp/in.jpg",
		Types:     []string{"face", "person"},
		Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, detect.KindFace, dets[0].Kind)
	assert.Equal(t, 0.81, dets[1].Confidence)
}

type stubSlots struct {
	allow    bool
	released int
}

func (s *stubSlots) Allow(string) (func(), bool) {
	if !s.allow {
		return func() {}, false
	}
	return func() { s.released++ }, true
}

func TestThrottledRejectsWhenSaturated(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(CropResponse{ProcessedPath: "/tmp/out.jpg"})
	}))
	defer srv.Close()

	slots := &stubSlots{}
	tc := &Throttled{Client: New(srv.URL, time.Second), Slots: slots}

	_, err := tc.CropImage(context.Background(), CropRequest{ImagePath: "/tmp/in.jpg"})
	require.ErrorIs(t, err, ErrBusy)
	assert.False(t, called, "saturated calls never reach the service")

	slots.allow = true
	resp, err := tc.CropImage(context.Background(), CropRequest{ImagePath: "/tmp/in.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.jpg", resp.ProcessedPath)
	assert.Equal(t, 1, slots.released, "slot released after the call")
}

func TestPostReturnsHTTPErrorWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ratio out of range", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.CropImage(context.Background(), CropRequest{ImagePath: "x.jpg"})
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "ratio out of range")
	assert.Contains(t, httpErr.Error(), "/api/v1/crop")
}

func TestProcessBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/process-batch", r.URL.Path)
		var req BatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Images, 2)

		_ = json.NewEncoder(w).Encode(BatchResponse{
			ProcessedImages: []CropResponse{
				{SourcePath: req.Images[0], ProcessedPath: "/tmp/a_out.jpg"},
			},
			FailedImages: []BatchFailure{{Path: req.Images[1], Error: "decode failed"}},
			TotalTimeMs:  128,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.ProcessBatch(context.Background(), BatchRequest{
		Images:      []string{"/tmp/a.jpg", "/tmp/b.jpg"},
		TargetRatio: geometry.AspectRatio{Width: 1, Height: 1},
	})
	require.NoError(t, err)
	require.Len(t, resp.ProcessedImages, 1)
	require.Len(t, resp.FailedImages, 1)
	assert.Equal(t, "/tmp/a.jpg", resp.ProcessedImages[0].SourcePath)
	assert.Equal(t, "decode failed", resp.FailedImages[0].Error)
}

func TestComposeSheet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/compose-sheet", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ComposeResponse{
			OutputPath: "/tmp/sheet.jpg",
			Dimensions: geometry.Dimensions{Width: 2480, Height: 3508},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.ComposeSheet(context.Background(), ComposeRequest{ProcessedImages: []string{"/tmp/a.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sheet.jpg", resp.OutputPath)
	assert.Equal(t, 2480, resp.Dimensions.Width)
}
