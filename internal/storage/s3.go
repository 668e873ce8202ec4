// Package storage archives job artifacts (processed images, sheets, PDFs)
// to S3 so results survive worker restarts and local cleanup.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Client wraps the AWS S3 client for artifact archival.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
	prefix     string
}

// ObjectInfo describes one archived artifact.
type ObjectInfo struct {
	Key  string
	Size int64
}

// NewS3Client creates a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, bucketName, prefix string) (*S3Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3Client) key(jobID, name string) string {
	if s.prefix == "" {
		return path.Join(jobID, name)
	}
	return path.Join(s.prefix, jobID, name)
}

// UploadFile streams a local file to S3 under <prefix>/<jobID>/<basename>.
func (s *S3Client) UploadFile(ctx context.Context, jobID, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := s.key(jobID, path.Base(filePath))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"job-id": jobID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Str("job_id", jobID).Msg("uploaded artifact to S3")
	return key, nil
}

// DownloadToFile fetches an object into a local file.
func (s *S3Client) DownloadToFile(ctx context.Context, key, destPath string) (int64, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create dest file: %w", err)
	}
	defer f.Close()

	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to download from S3: %w", err)
	}
	log.Debug().Str("key", key).Int64("bytes", n).Msg("downloaded object from S3")
	return n, nil
}

// ListJobArtifacts returns every archived object for a job.
func (s *S3Client) ListJobArtifacts(ctx context.Context, jobID string) ([]ObjectInfo, error) {
	prefix := s.key(jobID, "") + "/"
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(strings.TrimSuffix(prefix, "/") + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list artifacts failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil { continue }
			info := ObjectInfo{Key: *obj.Key}
			if obj.Size != nil { info.Size = *obj.Size }
			out = append(out, info)
		}
	}
	return out, nil
}

// DeleteJobArtifacts removes every archived object for a job. Best effort
// per object.
func (s *S3Client) DeleteJobArtifacts(ctx context.Context, jobID string) (int, error) {
	objects, err := s.ListJobArtifacts(ctx, jobID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, obj := range objects {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucketName),
			Key:    aws.String(obj.Key),
		})
		if err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("delete artifact failed")
			continue
		}
		deleted++
	}
	log.Info().Str("job_id", jobID).Int("deleted", deleted).Msg("deleted job artifacts from S3")
	return deleted, nil
}

// Ping verifies the bucket is reachable with the current credentials.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}
