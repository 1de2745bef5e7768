package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Put(bucket, key string, value []byte) error
	// PutWithTTL stores a value that expires after ttl.
	PutWithTTL(bucket, key string, value []byte, ttl time.Duration) error
	Get(bucket, key string) ([]byte, error)
	ForEach(bucket string, fn func(key, value []byte) error) error
	Delete(bucket, key string) error
	DeleteMany(bucket string, keys []string) error
	Close() error
}

// Compactor is implemented by stores that can reclaim space after deletes.
type Compactor interface {
	Compact() error
}

// Bucket scopes a Store to one bucket. It satisfies the probe cache
// contract.
type Bucket struct {
	store Store
	name  string
}

func NewBucket(store Store, name string) *Bucket {
	return &Bucket{store: store, name: name}
}

func (b *Bucket) Get(key string) ([]byte, error) {
	return b.store.Get(b.name, key)
}

func (b *Bucket) Put(key string, value []byte) error {
	return b.store.Put(b.name, key, value)
}

func (b *Bucket) PutWithTTL(key string, value []byte, ttl time.Duration) error {
	return b.store.PutWithTTL(b.name, key, value, ttl)
}
