// Package archive ships sealed audit segments to S3 for long-term
// retention. Only sealed segments are touched: the live JSONL files stay
// local until the trail rotates them.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// sealedSegment matches rotated JSONL files: "<stream>-<stamp>.jsonl"
// where the stamp is the seal time. Live files are plain "<stream>.jsonl"
// and never match.
func sealedSegment(name string) bool {
	if !strings.HasSuffix(name, ".jsonl") {
		return false
	}
	base := strings.TrimSuffix(name, ".jsonl")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return false
	}
	_, err := time.Parse("20060102T150405Z", base[idx+1:])
	return err == nil
}

// ArchiveDir uploads every sealed segment under dir and removes the local
// copy once the upload succeeds. Returns the number of segments shipped.
func (a *Archiver) ArchiveDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading audit dir: %w", err)
	}

	shipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !sealedSegment(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := a.upload(ctx, path, entry.Name()); err != nil {
			a.logger.Error("segment upload failed", "segment", entry.Name(), "error", err)
			continue
		}

		// Remove local copy only after S3 confirms the write.
		if err := os.Remove(path); err != nil {
			a.logger.Warn("archived segment not removed locally", "segment", entry.Name(), "error", err)
		}
		shipped++
		a.logger.Info("audit segment archived", "segment", entry.Name(), "bucket", a.bucket)
	}

	return shipped, nil
}

func (a *Archiver) upload(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s/%s", a.prefix, time.Now().UTC().Format("2006/01"), name)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("uploading segment to s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// ListArchived returns the keys of archived segments under the configured
// prefix, newest pages last.
func (a *Archiver) ListArchived(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.prefix + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing archived segments: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// Sweep deletes archived segments older than the retention window. The
// local live logs and unarchived sealed segments are never touched: the
// retention policy applies only to copies already shipped to S3.
func (a *Archiver) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	removed := 0

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.prefix + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("listing archived segments: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				a.logger.Error("retention delete failed", "key", aws.ToString(obj.Key), "error", err)
				continue
			}
			removed++
		}
	}

	return removed, nil
}
