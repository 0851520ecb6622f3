package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-parser/internal/scanning"
)

const bucketName = "receipts"

type cacheEntry struct {
	Receipt   *scanning.Receipt `json:"receipt"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// BoltCache implements the Cache interface using BoltDB
type BoltCache struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltCache creates a new BoltCache instance
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltCache{db: db, now: time.Now}, nil
}

// Set stores a receipt until ttl has passed
func (b *BoltCache) Set(ctx context.Context, key string, receipt *scanning.Receipt, ttl time.Duration) error {
	data, err := json.Marshal(cacheEntry{Receipt: receipt, ExpiresAt: b.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
	})
}

// Get returns the stored receipt. Expired entries are removed and reported
// as a miss.
func (b *BoltCache) Get(ctx context.Context, key string) (*scanning.Receipt, bool, error) {
	var entry *cacheEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if entry == nil {
		return nil, false, nil
	}

	if !b.now().Before(entry.ExpiresAt) {
		if err := b.delete(key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return entry.Receipt, true, nil
}

func (b *BoltCache) delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Close closes the database connection
func (b *BoltCache) Close() error {
	return b.db.Close()
}
