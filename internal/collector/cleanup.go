package collector

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

const (
	cleanupTimeout  = 5 * time.Minute
	cleanupInterval = time.Hour
)

// Cleaner deletes recordings older than the configured retention, locally
// and in S3 depending on the storage mode. Sweeps hourly.
type Cleaner struct {
	cfg     *Config
	storage *Storage
	client  *s3.Client

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCleaner creates a cleaner. Returns nil when retention is disabled.
func NewCleaner(cfg *Config, storage *Storage) *Cleaner {
	if cfg.RetentionDays == 0 {
		return nil
	}

	c := &Cleaner{
		cfg:     cfg,
		storage: storage,
		stopCh:  make(chan struct{}),
	}
	if cfg.StorageMode != types.StorageLocal {
		c.client = newS3Client(cfg)
	}
	return c
}

// Start launches the periodic cleanup scheduler.
func (c *Cleaner) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		slog.Info("cleanup scheduler started", "interval", cleanupInterval, "retention_days", c.cfg.RetentionDays)

		for {
			select {
			case <-ticker.C:
				c.Run()
			case <-c.stopCh:
				slog.Info("cleanup scheduler stopped")
				return
			}
		}
	}()
}

// Stop halts the scheduler.
func (c *Cleaner) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Run performs one cleanup pass.
func (c *Cleaner) Run() {
	cutoff := time.Now().AddDate(0, 0, -c.cfg.RetentionDays)
	slog.Info("cleanup: starting", "cutoff", cutoff.Format(time.DateTime))

	if c.cfg.StorageMode == types.StorageLocal || c.cfg.StorageMode == types.StorageBoth {
		c.cleanupLocal(cutoff)
	}
	if c.client != nil {
		c.cleanupS3(cutoff)
	}

	slog.Info("cleanup: completed")
}

// cleanupLocal removes local recordings older than the cutoff.
func (c *Cleaner) cleanupLocal(cutoff time.Time) {
	recordings, err := c.storage.List()
	if err != nil {
		slog.Warn("cleanup: failed to list recordings", "error", err)
		return
	}

	var deleted int
	for _, rec := range recordings {
		if !rec.Created.Before(cutoff) {
			continue
		}
		if err := c.storage.Remove(rec.Filename); err != nil {
			slog.Warn("cleanup: failed to delete recording", "file", rec.Filename, "error", err)
		} else {
			deleted++
			slog.Debug("cleanup: deleted recording", "file", rec.Filename)
		}
	}

	if deleted > 0 {
		slog.Info("cleanup: deleted local recordings", "count", deleted)
	}
}

// cleanupS3 removes archived objects older than the cutoff.
func (c *Cleaner) cleanupS3(cutoff time.Time) {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		cleanupTimeout,
		errors.New("s3 cleanup timeout"),
	)
	defer cancel()

	var deleted int
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(c.cfg.S3Bucket),
			Prefix: aws.String("recordings/"),
		}
		if continuationToken != nil {
			input.ContinuationToken = continuationToken
		}

		output, err := c.client.ListObjectsV2(ctx, input)
		if err != nil {
			slog.Warn("cleanup: failed to list S3 objects", "bucket", c.cfg.S3Bucket, "error", err)
			return
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			created, ok := parseRecordingTimestamp(filepath.Base(key))
			if !ok || !created.Before(cutoff) {
				continue
			}

			_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(c.cfg.S3Bucket),
				Key:    obj.Key,
			})
			if err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
			} else {
				deleted++
				slog.Debug("cleanup: deleted S3 object", "key", key)
			}
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	if deleted > 0 {
		slog.Info("cleanup: deleted S3 objects", "count", deleted)
	}
}
