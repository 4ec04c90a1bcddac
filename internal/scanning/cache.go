package scanning

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const extractionBucketName = "extractions"

// Cache defines the interface for extraction result caching
type Cache interface {
	// Get returns the cached items for an image, if present
	Get(imageData []byte) ([]RawItem, bool, error)

	// Put stores the extraction result for an image
	Put(imageData []byte, items []RawItem) error

	// Close closes the cache
	Close() error
}

// BoltCache caches extraction results in a bbolt file, keyed by the
// SHA-256 of the normalized image. Re-scanning the same photo skips the
// backend call entirely; bill state itself is never persisted here.
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens (or creates) a cache file at path.
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(extractionBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// Get returns the cached items for an image, if present
func (c *BoltCache) Get(imageData []byte) ([]RawItem, bool, error) {
	key := cacheKey(imageData)

	var raw []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(extractionBucketName)).Get(key); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cache: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var items []RawItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("unmarshaling cached items: %w", err)
	}
	return items, true, nil
}

// Put stores the extraction result for an image
func (c *BoltCache) Put(imageData []byte, items []RawItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling items: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(extractionBucketName)).Put(cacheKey(imageData), data)
	})
}

// Close closes the cache
func (c *BoltCache) Close() error {
	return c.db.Close()
}

func cacheKey(imageData []byte) []byte {
	sum := sha256.Sum256(imageData)
	return sum[:]
}
