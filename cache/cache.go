// Package cache keeps recently used message blobs on local disk so
// FETCH avoids the object store round trip. An embedded SQLite index
// tracks sizes and access times for LRU purging.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driftmail/keel/db"
)

const (
	DATA_DIR = "data"
	INDEX_DB = "cache_index.db"

	// Blobs above this size are never cached locally.
	MAX_CACHE_OBJECT_SIZE = 5 * 1024 * 1024

	PURGE_INTERVAL      = 12 * time.Hour
	ORPHAN_BATCH_SIZE   = 1000
	ErrCacheMissMessage = "blob not in cache"
)

var ErrNotFound = errors.New(ErrCacheMissMessage)

type Cache struct {
	basePath      string
	maxSize       int64
	maxObjectSize int64
	purgeInterval time.Duration
	index         *sql.DB
	sourceDB      *db.Database
}

// Options tune cache behavior; zero values fall back to the package
// defaults.
type Options struct {
	MaxObjectSize int64
	PurgeInterval time.Duration
}

func New(basePath string, maxSizeBytes int64, sourceDB *db.Database, options Options) (*Cache, error) {
	if options.MaxObjectSize <= 0 {
		options.MaxObjectSize = MAX_CACHE_OBJECT_SIZE
	}
	if options.PurgeInterval <= 0 {
		options.PurgeInterval = PURGE_INTERVAL
	}
	dataPath := filepath.Join(basePath, DATA_DIR)
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	index, err := sql.Open("sqlite", filepath.Join(basePath, INDEX_DB))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	if _, err := index.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := index.Exec(`
		CREATE TABLE IF NOT EXISTS cache_index (
			content_hash TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS cache_index_accessed_idx ON cache_index (accessed_at);
	`); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to create cache index schema: %w", err)
	}

	return &Cache{
		basePath:      basePath,
		maxSize:       maxSizeBytes,
		maxObjectSize: options.MaxObjectSize,
		purgeInterval: options.PurgeInterval,
		index:         index,
		sourceDB:      sourceDB,
	}, nil
}

func (c *Cache) Close() error {
	return c.index.Close()
}

// filePath fans cached blobs out under a two-character prefix,
// mirroring the object store layout.
func (c *Cache) filePath(contentHash string) string {
	if len(contentHash) < 2 {
		return filepath.Join(c.basePath, DATA_DIR, contentHash)
	}
	return filepath.Join(c.basePath, DATA_DIR, contentHash[:2], contentHash)
}

// Get returns a cached blob and refreshes its access time.
func (c *Cache) Get(contentHash string) ([]byte, error) {
	data, err := os.ReadFile(c.filePath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.touch(contentHash)
	return data, nil
}

// Put caches a blob unless it exceeds the per-object limit.
func (c *Cache) Put(contentHash string, data []byte) error {
	if int64(len(data)) > c.maxObjectSize {
		return nil
	}
	path := c.filePath(contentHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if err := c.trackFile(contentHash, int64(len(data))); err != nil {
		return err
	}
	return c.purgeIfNeeded()
}

// MoveIn adopts an already-written temp file into the cache, avoiding
// a copy on the upload path.
func (c *Cache) MoveIn(srcPath, contentHash string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if info.Size() > c.maxObjectSize {
		return os.Remove(srcPath)
	}
	dest := c.filePath(contentHash)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(srcPath, dest); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		data, readErr := os.ReadFile(srcPath)
		if readErr != nil {
			return readErr
		}
		if writeErr := os.WriteFile(dest, data, 0o644); writeErr != nil {
			return writeErr
		}
		os.Remove(srcPath)
	}
	if err := c.trackFile(contentHash, info.Size()); err != nil {
		return err
	}
	return c.purgeIfNeeded()
}

func (c *Cache) Delete(contentHash string) error {
	path := c.filePath(contentHash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	c.removeEmptyParents(filepath.Dir(path))
	_, err := c.index.Exec(`DELETE FROM cache_index WHERE content_hash = ?`, contentHash)
	return err
}

func (c *Cache) trackFile(contentHash string, size int64) error {
	_, err := c.index.Exec(`
		INSERT INTO cache_index (content_hash, size, accessed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (content_hash)
		DO UPDATE SET size = excluded.size, accessed_at = excluded.accessed_at
	`, contentHash, size, time.Now().Unix())
	return err
}

func (c *Cache) touch(contentHash string) {
	c.index.Exec(`UPDATE cache_index SET accessed_at = ? WHERE content_hash = ?`,
		time.Now().Unix(), contentHash)
}

// purgeIfNeeded evicts least-recently-used blobs until the cache fits
// its size budget again.
func (c *Cache) purgeIfNeeded() error {
	var total sql.NullInt64
	if err := c.index.QueryRow(`SELECT SUM(size) FROM cache_index`).Scan(&total); err != nil {
		return err
	}
	if !total.Valid || total.Int64 <= c.maxSize {
		return nil
	}
	excess := total.Int64 - c.maxSize

	rows, err := c.index.Query(`
		SELECT content_hash, size FROM cache_index ORDER BY accessed_at
	`)
	if err != nil {
		return err
	}
	var victims []string
	var reclaimed int64
	for rows.Next() && reclaimed < excess {
		var hash string
		var size int64
		if err := rows.Scan(&hash, &size); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, hash)
		reclaimed += size
	}
	rows.Close()

	for _, hash := range victims {
		if err := c.Delete(hash); err != nil {
			log.Printf("cache: failed to evict %s: %v", hash, err)
		}
	}
	return nil
}

// SyncFromDisk rebuilds index rows for blobs already on disk, e.g.
// after an index database loss.
func (c *Cache) SyncFromDisk() error {
	dataPath := filepath.Join(c.basePath, DATA_DIR)
	return filepath.WalkDir(dataPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return c.trackFile(filepath.Base(path), info.Size())
	})
}

// StartPurgeLoop runs a size purge and an orphan sweep immediately and
// then on a fixed interval until the context is cancelled.
func (c *Cache) StartPurgeLoop(ctx context.Context) {
	go func() {
		run := func() {
			if err := c.purgeIfNeeded(); err != nil {
				log.Printf("cache: purge failed: %v", err)
			}
			if err := c.purgeOrphans(ctx); err != nil {
				log.Printf("cache: orphan purge failed: %v", err)
			}
		}
		run()

		ticker := time.NewTicker(c.purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// purgeOrphans drops cached blobs whose content hash no longer appears
// in the message store.
func (c *Cache) purgeOrphans(ctx context.Context) error {
	rows, err := c.index.Query(`SELECT content_hash FROM cache_index`)
	if err != nil {
		return err
	}
	var all []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return err
		}
		all = append(all, hash)
	}
	rows.Close()

	for start := 0; start < len(all); start += ORPHAN_BATCH_SIZE {
		end := min(start+ORPHAN_BATCH_SIZE, len(all))
		batch := all[start:end]

		existing, err := c.sourceDB.FindExistingContentHashes(ctx, batch)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(existing))
		for _, hash := range existing {
			known[hash] = struct{}{}
		}
		for _, hash := range batch {
			if _, ok := known[hash]; !ok {
				if err := c.Delete(hash); err != nil {
					log.Printf("cache: failed to delete orphan %s: %v", hash, err)
				}
			}
		}
	}
	return nil
}

// removeEmptyParents prunes fan-out directories left empty after a
// delete, stopping at the data root.
func (c *Cache) removeEmptyParents(dir string) {
	root := filepath.Join(c.basePath, DATA_DIR)
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
