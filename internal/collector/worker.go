package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

const (
	// MaxUploadRetryAge is the maximum age for retrying uploads.
	MaxUploadRetryAge = 24 * time.Hour

	uploadQueueSize  = 64
	uploadTimeout    = 5 * time.Minute
	retryInitialWait = 3 * time.Second
	retryMaxWait     = 60 * time.Second
)

// uploadRequest represents a recording to be uploaded to S3.
type uploadRequest struct {
	filename string
	fileSize int64
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	request      uploadRequest
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

// Uploader pushes finished recordings to S3-compatible storage. Requests
// are processed by a single worker goroutine; failures go to a retry queue
// drained with exponential backoff until the retry age cap.
type Uploader struct {
	cfg     *Config
	storage *Storage
	client  *s3.Client

	queue  chan uploadRequest
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	retryQueue []pendingUpload

	backoff *util.Backoff
}

// NewUploader creates an uploader. Returns nil when the storage mode is
// local-only; callers treat a nil uploader as "no archival".
func NewUploader(cfg *Config, storage *Storage) *Uploader {
	if cfg.StorageMode == types.StorageLocal {
		return nil
	}

	return &Uploader{
		cfg:     cfg,
		storage: storage,
		client:  newS3Client(cfg),
		queue:   make(chan uploadRequest, uploadQueueSize),
		stopCh:  make(chan struct{}),
		backoff: util.NewBackoff(retryInitialWait, retryMaxWait),
	}
}

// Start launches the worker and retry goroutines.
func (u *Uploader) Start() {
	u.wg.Add(2)
	go u.worker()
	go u.retryLoop()
}

// Stop shuts the worker down after draining queued uploads.
func (u *Uploader) Stop() {
	close(u.stopCh)
	u.wg.Wait()
}

// Enqueue queues a stored recording for upload.
func (u *Uploader) Enqueue(filename string, fileSize int64) {
	select {
	case u.queue <- uploadRequest{filename: filename, fileSize: fileSize}:
		slog.Info("queued recording for upload", "file", filename)
	default:
		slog.Warn("upload queue full, deferring to retry queue", "file", filename)
		u.addToRetryQueue(uploadRequest{filename: filename, fileSize: fileSize}, "queue full")
	}
}

// PendingRetries returns the number of uploads waiting for retry.
func (u *Uploader) PendingRetries() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.retryQueue)
}

// worker processes the upload queue, draining remaining items on shutdown.
func (u *Uploader) worker() {
	defer u.wg.Done()

	for {
		select {
		case <-u.stopCh:
			// Drain remaining items before exiting
			for {
				select {
				case req := <-u.queue:
					u.uploadFile(req)
				default:
					return
				}
			}
		case req := <-u.queue:
			u.uploadFile(req)
		}
	}
}

// retryLoop periodically re-attempts failed uploads, backing off while they
// keep failing.
func (u *Uploader) retryLoop() {
	defer u.wg.Done()

	for {
		select {
		case <-u.stopCh:
			return
		case <-time.After(u.backoff.Current()):
			if u.processRetryQueue() {
				u.backoff.Reset()
			} else {
				u.backoff.Next()
			}
		}
	}
}

// uploadFile uploads a recording to S3 and deletes the local copy in
// S3-only mode.
func (u *Uploader) uploadFile(req uploadRequest) {
	if err := u.putObject(req); err != nil {
		slog.Error("upload failed", "file", req.filename, "error", err)
		u.addToRetryQueue(req, err.Error())
		return
	}

	slog.Info("upload completed", "file", req.filename)
	u.finishLocal(req.filename)
}

// putObject performs the S3 PutObject call for a stored recording.
func (u *Uploader) putObject(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(u.storage.Path(req.filename))
	if err != nil {
		return util.WrapError("open recording", err)
	}
	defer util.SafeCloseFunc(file, "recording file")()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.S3Bucket),
		Key:           aws.String("recordings/" + req.filename),
		Body:          file,
		ContentLength: aws.Int64(req.fileSize),
		ContentType:   aws.String("audio/pcm"),
	})
	if err != nil {
		return util.WrapError("put object", err)
	}

	return nil
}

// finishLocal removes the local copy when the storage mode is S3-only.
// In "both" mode the file stays until retention cleanup.
func (u *Uploader) finishLocal(filename string) {
	if u.cfg.StorageMode != types.StorageS3 {
		return
	}
	if err := u.storage.Remove(filename); err != nil {
		slog.Warn("failed to delete local copy after upload", "file", filename, "error", err)
	} else {
		slog.Debug("deleted local copy after upload", "file", filename)
	}
}

// addToRetryQueue adds a failed upload to the retry queue.
func (u *Uploader) addToRetryQueue(req uploadRequest, errMsg string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	// Prevent duplicates
	for _, p := range u.retryQueue {
		if p.request.filename == req.filename {
			return
		}
	}

	u.retryQueue = append(u.retryQueue, pendingUpload{
		request:      req,
		firstAttempt: time.Now(),
		retryCount:   0,
		lastError:    errMsg,
	})
}

// processRetryQueue attempts all pending uploads. Returns true if every
// attempted upload succeeded (or the queue was empty).
func (u *Uploader) processRetryQueue() bool {
	u.mu.Lock()
	if len(u.retryQueue) == 0 {
		u.mu.Unlock()
		return true
	}
	pending := u.retryQueue
	u.retryQueue = nil
	u.mu.Unlock()

	now := time.Now()
	allOK := true

	for i := range pending {
		p := &pending[i]

		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			slog.Warn("upload abandoned after retry age cap",
				"file", p.request.filename,
				"attempts", p.retryCount+1,
				"last_error", p.lastError)
			continue
		}

		p.retryCount++
		slog.Info("retrying upload", "file", p.request.filename, "attempt", p.retryCount)

		if _, err := os.Stat(u.storage.Path(p.request.filename)); os.IsNotExist(err) {
			slog.Warn("retry file no longer exists", "file", p.request.filename)
			continue
		}

		if err := u.putObject(p.request); err != nil {
			p.lastError = err.Error()
			allOK = false
			u.mu.Lock()
			u.retryQueue = append(u.retryQueue, *p)
			u.mu.Unlock()
			continue
		}

		slog.Info("retry upload completed", "file", p.request.filename)
		u.finishLocal(p.request.filename)
	}

	return allOK
}
