// Package store persists job status and results in Redis hashes so any
// instance can answer progress queries for any job.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/pankaj139/pixelforge/internal/job"
)

// Status is the externally visible job state.
type Status struct {
	Status     string       `json:"status"`
	Stage      string       `json:"stage,omitempty"`
	Processed  int          `json:"processed_images"`
	Total      int          `json:"total_images"`
	Percentage int          `json:"percentage"`
	Message    string       `json:"message,omitempty"`
	Start      *time.Time   `json:"start_time,omitempty"`
	End        *time.Time   `json:"end_time,omitempty"`
	Results    *job.Results `json:"results,omitempty"`
}

type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStatus(redisURL string) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil { return nil, err }
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil { return nil, err }
	return &RedisStatus{client: c, keyNS: "job", ttl: 7 * 24 * time.Hour}, nil
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m := map[string]interface{}{
		"status":     st.Status,
		"stage":      st.Stage,
		"processed":  st.Processed,
		"total":      st.Total,
		"percentage": st.Percentage,
		"message":    st.Message,
	}
	if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
	if st.End != nil { m["end"] = st.End.Format(time.RFC3339Nano) }
	if st.Results != nil {
		b, _ := json.Marshal(st.Results)
		m["results"] = string(b)
	}
	key := s.key(jobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// SetProgress updates only the moving fields, leaving timestamps and results
// untouched.
func (s *RedisStatus) SetProgress(ctx context.Context, jobID string, prog job.Progress) error {
	return s.client.HSet(ctx, s.key(jobID), map[string]interface{}{
		"stage":      prog.Stage,
		"processed":  prog.ProcessedImages,
		"total":      prog.TotalImages,
		"percentage": prog.Percentage,
		"message":    prog.Message,
	}).Err()
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil { return Status{}, false, err }
	if len(res) == 0 { return Status{}, false, nil }
	st := Status{}
	st.Status = res["status"]
	st.Stage = res["stage"]
	st.Message = res["message"]
	for field, dst := range map[string]*int{"processed": &st.Processed, "total": &st.Total, "percentage": &st.Percentage} {
		if v, ok := res[field]; ok && v != "" {
			var n int
			fmt.Sscan(v, &n)
			*dst = n
		}
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.End = &t }
	}
	if v := res["results"]; v != "" {
		var r job.Results
		if json.Unmarshal([]byte(v), &r) == nil { st.Results = &r }
	}
	return st, true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }

// SetFileJobMapping associates an uploaded file ID with its job so downloads
// can be resolved without the job ID.
func (s *RedisStatus) SetFileJobMapping(ctx context.Context, fileID, jobID string) error {
	key := fmt.Sprintf("file_to_job:%s", fileID)
	return s.client.Set(ctx, key, jobID, s.ttl).Err()
}

// GetJobByFileID resolves the job that owns a file ID.
func (s *RedisStatus) GetJobByFileID(ctx context.Context, fileID string) (string, error) {
	key := fmt.Sprintf("file_to_job:%s", fileID)
	jobID, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("no job found for file_id: %s", fileID)
	}
	return jobID, err
}
