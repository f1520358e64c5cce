// Package uploader drains the pending upload queue: blobs staged on
// local disk by the write path are pushed to the object store in the
// background.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/driftmail/keel/cache"
	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/metrics"
	"github.com/driftmail/keel/storage"
)

type UploadWorker struct {
	db         *db.Database
	s3         *storage.S3Storage
	cache      *cache.Cache
	tempPath   string
	instanceID string

	batchSize     int
	concurrency   int
	retryInterval time.Duration

	// notifyCh coalesces wakeups: capacity one, extra notifications
	// are dropped because a drain pass is already due.
	notifyCh chan struct{}
}

// Options tune the drain loop; zero values fall back to the defaults
// in consts.
type Options struct {
	BatchSize     int
	Concurrency   int
	RetryInterval time.Duration
}

func New(tempPath, instanceID string, database *db.Database, s3 *storage.S3Storage, blobCache *cache.Cache, options Options) (*UploadWorker, error) {
	if err := os.MkdirAll(tempPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	if options.BatchSize <= 0 {
		options.BatchSize = consts.BATCH_SIZE
	}
	if options.Concurrency <= 0 {
		options.Concurrency = consts.MAX_CONCURRENCY
	}
	if options.RetryInterval <= 0 {
		options.RetryInterval = consts.PENDING_UPLOAD_RETRY_INTERVAL
	}
	return &UploadWorker{
		db:            database,
		s3:            s3,
		cache:         blobCache,
		tempPath:      tempPath,
		instanceID:    instanceID,
		batchSize:     options.BatchSize,
		concurrency:   options.Concurrency,
		retryInterval: options.RetryInterval,
		notifyCh:      make(chan struct{}, 1),
	}, nil
}

func (w *UploadWorker) InstanceID() string {
	return w.instanceID
}

// Start drains the queue on notification and on a timer, the latter
// picking up work left by crashed instances once their leases expire.
func (w *UploadWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.notifyCh:
			case <-ticker.C:
			}
			w.processPendingUploads(ctx)
		}
	}()
}

// NotifyUploadQueued wakes the worker without blocking the write path.
func (w *UploadWorker) NotifyUploadQueued() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

func (w *UploadWorker) processPendingUploads(ctx context.Context) {
	for {
		uploads, err := w.db.AcquireAndLeasePendingUploads(ctx, w.instanceID, w.batchSize)
		if err != nil {
			log.Printf("uploader: failed to lease pending uploads: %v", err)
			return
		}
		if len(uploads) == 0 {
			return
		}

		sem := make(chan struct{}, w.concurrency)
		var wg sync.WaitGroup
		for _, upload := range uploads {
			wg.Add(1)
			sem <- struct{}{}
			go func(upload db.PendingUpload) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := w.processSingleUpload(ctx, upload); err != nil {
					log.Printf("uploader: upload of %s failed: %v", upload.ContentHash, err)
					metrics.BlobUploadsTotal.WithLabelValues("failed").Inc()
					if err := w.db.MarkUploadAttempt(ctx, upload.ID); err != nil {
						log.Printf("uploader: failed to record attempt for %s: %v", upload.ContentHash, err)
					}
				} else {
					metrics.BlobUploadsTotal.WithLabelValues("ok").Inc()
				}
			}(upload)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

func (w *UploadWorker) processSingleUpload(ctx context.Context, upload db.PendingUpload) error {
	uploaded, err := w.db.IsContentHashUploaded(ctx, upload.ContentHash)
	if err != nil {
		return err
	}
	if uploaded {
		return w.db.CompleteS3Upload(ctx, upload.ContentHash)
	}

	path := w.FilePath(upload.ContentHash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Another instance staged it; verify the store directly.
			exists, err := w.s3.Exists(ctx, upload.ContentHash)
			if err != nil {
				return err
			}
			if exists {
				return w.db.CompleteS3Upload(ctx, upload.ContentHash)
			}
			return fmt.Errorf("staged blob missing locally and in store")
		}
		return err
	}

	if err := w.s3.Put(ctx, upload.ContentHash, bytes.NewReader(data), int64(len(data))); err != nil {
		return err
	}

	if err := w.db.CompleteS3Upload(ctx, upload.ContentHash); err != nil {
		return err
	}

	// Adopt the staged file into the cache instead of deleting it; a
	// FETCH right after delivery is the common case.
	if err := w.cache.MoveIn(path, upload.ContentHash); err != nil {
		log.Printf("uploader: failed to cache %s: %v", upload.ContentHash, err)
		os.Remove(path)
	}
	w.removeEmptyParents(filepath.Dir(path))
	return nil
}

// StoreLocally stages raw message bytes for upload and returns the
// staging path.
func (w *UploadWorker) StoreLocally(contentHash string, data []byte) (*string, error) {
	path := w.FilePath(contentHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return &path, nil
}

// GetLocalFile returns staged bytes, or nil when the blob already left
// the staging area.
func (w *UploadWorker) GetLocalFile(contentHash string) ([]byte, error) {
	data, err := os.ReadFile(w.FilePath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (w *UploadWorker) RemoveLocalFile(contentHash string) error {
	path := w.FilePath(contentHash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	w.removeEmptyParents(filepath.Dir(path))
	return nil
}

func (w *UploadWorker) FilePath(contentHash string) string {
	if len(contentHash) < 2 {
		return filepath.Join(w.tempPath, contentHash)
	}
	return filepath.Join(w.tempPath, contentHash[:2], contentHash)
}

func (w *UploadWorker) removeEmptyParents(dir string) {
	for dir != w.tempPath && len(dir) > len(w.tempPath) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
