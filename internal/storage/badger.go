package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps every bucket in one badger keyspace under "bucket/key".
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	return NewBadgerStoreWithKey(path, "")
}

// NewInMemoryStore opens a badger instance without a data directory, for
// tests and one-shot CLI scans.
func NewInMemoryStore() (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db, inMemory: true}, nil
}

// NewBadgerStoreWithKey opens path, encrypting at rest when keyBase64 holds a
// 32-byte AES key.
func NewBadgerStoreWithKey(path string, keyBase64 string) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if keyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyBase64)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes")
		}
		// Encrypted stores need an index cache.
		opts = opts.WithEncryptionKey(key).WithIndexCacheSize(64 << 20)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Put(bucket, key string, value []byte) error {
	return b.PutWithTTL(bucket, key, value, 0)
}

// PutWithTTL stores value so that it disappears after ttl. A zero ttl never
// expires.
func (b *BadgerStore) PutWithTTL(bucket, key string, value []byte, ttl time.Duration) error {
	k, err := itemKey(bucket, key)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(k, value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

func (b *BadgerStore) Get(bucket, key string) ([]byte, error) {
	k, err := itemKey(bucket, key)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// ForEach visits the live entries of bucket in key order. Returning an error
// from fn stops the walk.
func (b *BadgerStore) ForEach(bucket string, fn func(key, value []byte) error) error {
	if bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	prefix := []byte(bucket + "/")
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)[len(prefix):]
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Delete(bucket, key string) error {
	return b.DeleteMany(bucket, []string{key})
}

// DeleteMany removes keys from bucket in as few transactions as badger
// allows.
func (b *BadgerStore) DeleteMany(bucket string, keys []string) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		k, err := itemKey(bucket, key)
		if err != nil {
			return err
		}
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Compact reclaims value log space left behind by deletes and expired
// entries. It is a no-op for in-memory stores.
func (b *BadgerStore) Compact() error {
	if b.inMemory {
		return nil
	}
	for {
		err := b.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *BadgerStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func itemKey(bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	return []byte(filepath.ToSlash(bucket + "/" + key)), nil
}
