// Package statuscheck aggregates readiness probes for external dependencies.
package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RedisPinger models the minimal Redis capability needed for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the health endpoint.
type Checker struct {
	redis       RedisPinger
	s3Bucket    string
	httpClient  *http.Client
	remoteURL   string
	cascadePath string
}

// Options configures the Checker.
type Options struct {
	Redis       RedisPinger
	S3Bucket    string
	HTTPClient  *http.Client
	RemoteURL   string
	CascadePath string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis         Status `json:"redis"`
	S3            Status `json:"s3"`
	RemoteService Status `json:"remote_service"`
	FaceCascade   Status `json:"face_cascade"`
}

// New creates a Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:       opts.Redis,
		s3Bucket:    opts.S3Bucket,
		httpClient:  client,
		remoteURL:   strings.TrimSpace(opts.RemoteURL),
		cascadePath: opts.CascadePath,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:         c.checkRedis(ctx),
		S3:            c.checkS3(ctx),
		RemoteService: c.checkRemote(ctx),
		FaceCascade:   c.checkCascade(),
	}
}

// Healthy is true when every required subsystem is up. The remote service
// and S3 are optional accelerators, not requirements.
func (c *Checker) Healthy(ctx context.Context) bool {
	return c.checkRedis(ctx).OK && c.checkCascade().OK
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: err.Error()}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return Status{OK: false, Message: err.Error()}
	}
	cli := s3.NewFromConfig(cfg)
	_, err = cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket})
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRemote(ctx context.Context) Status {
	if c.remoteURL == "" {
		return Status{OK: false, Message: "Not configured"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.remoteURL, "/")+"/health", nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkCascade() Status {
	if c.cascadePath == "" {
		return Status{OK: false, Message: "Path not configured"}
	}
	fi, err := os.Stat(c.cascadePath)
	if err != nil {
		return Status{OK: false, Message: "Model file not found"}
	}
	if fi.Size() == 0 {
		return Status{OK: false, Message: "Model file empty"}
	}
	return Status{OK: true, Message: "Loaded"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
