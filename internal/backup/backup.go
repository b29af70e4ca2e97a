// Package backup stores gzipped JSON snapshots of the event state in S3.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/models"
)

const (
	pathPrefix = "motoreg"
	latestKey  = pathPrefix + "/latest.json.gz"
)

// ObjectAPI is the part of *s3.Client the backup needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Store struct {
	client ObjectAPI
	bucket string
	now    func() time.Time
}

// New uses the default AWS configuration sources (environment, shared
// config and credentials files).
func New(ctx context.Context, bucket string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to load AWS config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(cfg), bucket), nil
}

func NewWithClient(client ObjectAPI, bucket string) *Store {
	return &Store{client: client, bucket: bucket, now: time.Now}
}

// Upload writes a timestamped snapshot and overwrites the latest pointer.
// It returns the key of the timestamped object.
func (s *Store) Upload(ctx context.Context, st models.State) (string, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gw).Encode(st); err != nil {
		return "", fmt.Errorf("backup: encode snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("backup: close gzip writer: %w", err)
	}
	data := buf.Bytes()

	key := fmt.Sprintf("%s/snapshots/%s.json.gz", pathPrefix, s.now().UTC().Format("20060102T150405Z"))
	for _, k := range []string{key, latestKey} {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(k),
			Body:            bytes.NewReader(data),
			ContentType:     aws.String("application/json"),
			ContentEncoding: aws.String("gzip"),
		})
		if err != nil {
			return "", fmt.Errorf("backup: put %s/%s: %w", s.bucket, k, err)
		}
	}
	logging.For("backup").WithField("key", key).
		WithField("participants", len(st.Participants)).
		Info("snapshot uploaded")
	return key, nil
}

// Latest fetches the most recent snapshot. ok is false when none exists.
func (s *Store) Latest(ctx context.Context) (st models.State, ok bool, err error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(latestKey),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return models.State{}, false, nil
		}
		return models.State{}, false, fmt.Errorf("backup: get %s/%s: %w", s.bucket, latestKey, err)
	}
	defer resp.Body.Close()

	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return models.State{}, false, fmt.Errorf("backup: open compressed snapshot: %w", err)
	}
	defer gr.Close()

	data, err := io.ReadAll(gr)
	if err != nil {
		return models.State{}, false, fmt.Errorf("backup: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return models.State{}, false, fmt.Errorf("backup: decode snapshot: %w", err)
	}
	return st, true, nil
}
