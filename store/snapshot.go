package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"maison/api/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// TakeSnapshot reads all three dashboard views from s.
func TakeSnapshot(ctx context.Context, s EventStore, now time.Time) (models.DashboardSnapshot, error) {
	snap := models.DashboardSnapshot{GeneratedAt: now.UTC()}
	var err error
	if snap.Stats, err = s.Stats(ctx, now); err != nil {
		return snap, fmt.Errorf("snapshot stats: %w", err)
	}
	if snap.ActiveVisitors, err = s.ListActive(ctx, now); err != nil {
		return snap, fmt.Errorf("snapshot active visitors: %w", err)
	}
	if snap.Notifications, err = s.ListNotifications(ctx); err != nil {
		return snap, fmt.Errorf("snapshot notifications: %w", err)
	}
	return snap, nil
}

// SnapshotWriter stores one serialized snapshot.
type SnapshotWriter interface {
	Write(ctx context.Context, data []byte) error
}

// S3Destination writes snapshots to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		key:    key,
	}, nil
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// SnapshotExporter periodically backs up the dashboard views.
type SnapshotExporter struct {
	Store    EventStore
	Dest     SnapshotWriter
	Interval time.Duration
	Clock    func() time.Time
}

func (e *SnapshotExporter) ExportOnce(ctx context.Context) error {
	now := time.Now()
	if e.Clock != nil {
		now = e.Clock()
	}
	snap, err := TakeSnapshot(ctx, e.Store, now)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return e.Dest.Write(ctx, data)
}

// Run exports on every tick until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (e *SnapshotExporter) Run(ctx context.Context) {
	interval := e.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ExportOnce(ctx); err != nil {
				log.Printf("ERROR: snapshot export failed: %v", err)
			}
		}
	}
}
