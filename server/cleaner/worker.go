// Package cleaner reclaims storage: blobs whose every reference was
// expunged before the grace period are deleted from the object store,
// the database and the cache. It also trims old journal rows.
package cleaner

import (
	"context"
	"log"
	"time"

	"github.com/driftmail/keel/cache"
	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/metrics"
	"github.com/driftmail/keel/storage"
)

const sweepBatchSize = 100

type CleanupWorker struct {
	db               *db.Database
	s3               *storage.S3Storage
	cache            *cache.Cache
	interval         time.Duration
	gracePeriod      time.Duration
	journalRetention time.Duration
}

func New(database *db.Database, s3 *storage.S3Storage, blobCache *cache.Cache, interval, gracePeriod, journalRetention time.Duration) *CleanupWorker {
	// A too-eager interval just burns queries; clamp to a sane floor.
	if interval < time.Minute {
		interval = time.Minute
	}
	if gracePeriod <= 0 {
		gracePeriod = consts.CLEANUP_GRACE_PERIOD
	}
	if journalRetention <= 0 {
		journalRetention = consts.JOURNAL_RETENTION
	}
	return &CleanupWorker{
		db:               database,
		s3:               s3,
		cache:            blobCache,
		interval:         interval,
		gracePeriod:      gracePeriod,
		journalRetention: journalRetention,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runOnce(ctx)
			}
		}
	}()
}

// runOnce sweeps under a database advisory lock so only one instance
// cleans at a time.
func (w *CleanupWorker) runOnce(ctx context.Context) {
	acquired, err := w.db.AcquireCleanupLock(ctx)
	if err != nil {
		log.Printf("cleaner: failed to acquire lock: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer w.db.ReleaseCleanupLock(ctx)

	cutoff := time.Now().Add(-w.gracePeriod)
	for {
		hashes, err := w.db.ListBlobsToSweep(ctx, cutoff, sweepBatchSize)
		if err != nil {
			log.Printf("cleaner: failed to list candidates: %v", err)
			return
		}
		if len(hashes) == 0 {
			break
		}

		for _, contentHash := range hashes {
			if ctx.Err() != nil {
				return
			}
			w.sweepOne(ctx, contentHash, cutoff)
		}
		if len(hashes) < sweepBatchSize {
			break
		}
	}

	trimmed, err := w.db.TrimJournal(ctx, w.journalRetention)
	if err != nil {
		log.Printf("cleaner: failed to trim journal: %v", err)
	} else if trimmed > 0 {
		log.Printf("cleaner: trimmed %d journal rows", trimmed)
	}
}

// sweepOne removes the database rows first; the transaction re-checks
// that no live reference appeared since the candidate list was built.
// Only once the rows are gone does the blob leave S3 and the cache, so
// a race can at worst orphan a blob, never lose a referenced one.
func (w *CleanupWorker) sweepOne(ctx context.Context, contentHash string, cutoff time.Time) {
	swept, err := w.db.SweepBlob(ctx, contentHash, cutoff)
	if err != nil {
		log.Printf("cleaner: failed to sweep %s: %v", contentHash, err)
		return
	}
	if !swept {
		return
	}

	if err := w.s3.Delete(ctx, contentHash); err != nil {
		log.Printf("cleaner: failed to delete blob %s: %v", contentHash, err)
	}
	if err := w.cache.Delete(contentHash); err != nil {
		log.Printf("cleaner: failed to drop %s from cache: %v", contentHash, err)
	}
	metrics.CleanupSweptTotal.Inc()
}
