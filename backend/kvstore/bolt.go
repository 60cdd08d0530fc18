package kvstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bolt is a Store backed by a single bbolt database file.
type Bolt struct {
	db *bbolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens or creates the database file and ensures all buckets
// exist. The file is locked for exclusive access; opening a file already
// held by another process fails after a short timeout.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{BucketEntries, BucketIndex, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Update implements Store.
func (s *Bolt) Update(fn func(tx Tx) error) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(boltTx{btx})
	})
}

// View implements Store.
func (s *Bolt) View(fn func(tx Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(boltTx{btx})
	})
}

// Close implements Store.
func (s *Bolt) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx *bbolt.Tx
}

func (t boltTx) Get(bucket, key []byte) []byte {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	return b.Get(key)
}

func (t boltTx) Put(bucket, key, value []byte) error {
	return t.tx.Bucket(bucket).Put(key, value)
}

func (t boltTx) Delete(bucket, key []byte) error {
	return t.tx.Bucket(bucket).Delete(key)
}

func (t boltTx) Scan(bucket []byte, fn func(key, value []byte) error) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	return b.ForEach(fn)
}

func (t boltTx) Clear(bucket []byte) error {
	if err := t.tx.DeleteBucket(bucket); err != nil {
		return err
	}
	_, err := t.tx.CreateBucket(bucket)
	return err
}
