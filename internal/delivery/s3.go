package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/reportd-data/reportd/internal/domain"
)

// DefaultPutTimeout bounds a single result upload.
const DefaultPutTimeout = 60 * time.Second

// S3Config holds connection settings for the delivery bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// Prefix is prepended to every object key (e.g. "exports").
	Prefix string

	// PutTimeout is the context timeout for uploads. Defaults to 60s if zero.
	PutTimeout time.Duration
}

// S3Deliverer uploads rendered results to MinIO / S3-compatible storage.
type S3Deliverer struct {
	client     *minio.Client
	bucket     string
	prefix     string
	putTimeout time.Duration
}

// NewS3Deliverer creates an S3Deliverer connected to the given endpoint.
// It auto-creates the bucket if it doesn't exist.
func NewS3Deliverer(ctx context.Context, cfg S3Config) (*S3Deliverer, error) {
	putTimeout := cfg.PutTimeout
	if putTimeout == 0 {
		putTimeout = DefaultPutTimeout
	}

	// Custom transport with explicit dial and TLS timeouts so a hung
	// endpoint fails a run instead of wedging the scheduler worker.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	d := &S3Deliverer{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		putTimeout: putTimeout,
	}

	if err := d.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// ensureBucket creates the bucket if it doesn't already exist.
func (d *S3Deliverer) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", d.bucket, err)
	}
	if !exists {
		if err := d.client.MakeBucket(ctx, d.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", d.bucket, err)
		}
	}
	return nil
}

// Deliver renders the result in the schedule's export format and uploads it.
// Object keys are laid out per report so a bucket listing groups exports:
// <prefix>/<report_id>/<generated_at>_<result_id>.<ext>
func (d *S3Deliverer) Deliver(ctx context.Context, res *domain.ReportResult, sched domain.ScheduledReport) error {
	payload, contentType, ext, err := Render(res, sched.Spec.ExportFormat)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s_%s.%s",
		sched.ReportID,
		res.GeneratedAt.UTC().Format("20060102T150405Z"),
		res.ID,
		ext,
	)
	if d.prefix != "" {
		key = d.prefix + "/" + key
	}

	ctx, cancel := context.WithTimeout(ctx, d.putTimeout)
	defer cancel()

	_, err = d.client.PutObject(ctx, d.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	slog.Info("delivered report export",
		"report_id", sched.ReportID,
		"schedule_id", sched.ID,
		"key", key,
		"bytes", len(payload),
	)
	return nil
}
