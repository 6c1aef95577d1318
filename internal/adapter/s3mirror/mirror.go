// Package s3mirror copies updated time-series files to an S3-compatible bucket.
package s3mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/pipeline"
)

// putObjectAPI is the part of *s3.Client the mirror uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the bucket and, for MinIO and similar, the endpoint.
type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Mirror uploads the store file of every stored metric after a run.
// It implements pipeline.Notifier.
type Mirror struct {
	client  putObjectAPI
	bucket  string
	prefix  string
	dataDir string
	logger  *slog.Logger
}

// New builds an S3 client from the default credential chain.
func New(ctx context.Context, cfg Config, dataDir string, logger *slog.Logger) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newMirror(client, cfg, dataDir, logger), nil
}

func newMirror(client putObjectAPI, cfg Config, dataDir string, logger *slog.Logger) *Mirror {
	return &Mirror{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		dataDir: dataDir,
		logger:  logger,
	}
}

func (m *Mirror) Name() string { return "s3" }

// Key returns the object key for a metric's file.
func (m *Mirror) Key(kind domain.MetricKind) string {
	return m.prefix + kind.FileName()
}

// Notify uploads each stored metric's file. It keeps going after a failed
// upload and returns all failures joined.
func (m *Mirror) Notify(ctx context.Context, rep *pipeline.Report) error {
	var errs []error
	for _, res := range rep.Stored() {
		if err := m.upload(ctx, rep, res.Kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mirror) upload(ctx context.Context, rep *pipeline.Report, kind domain.MetricKind) error {
	body, err := os.ReadFile(filepath.Join(m.dataDir, kind.FileName()))
	if err != nil {
		return fmt.Errorf("read %s store: %w", kind, err)
	}
	key := m.Key(kind)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"report-date": domain.FormatDate(rep.ReportDate),
			"run-id":      rep.RunID,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", kind, m.bucket, key, err)
	}
	m.logger.Debug("store mirrored", "metric", kind.String(), "key", key, "bytes", len(body))
	return nil
}
