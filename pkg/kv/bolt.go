package kv

import (
	"bytes"
	"context"
	"time"

	bolt "go.etcd.io/bbolt"
)

var _ Store = (*BoltStore)(nil)

// BoltStore maps each table onto its own top level bucket.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, t := range Tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(t)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (b *boltTx) bucket(t Table) (*bolt.Bucket, error) {
	bk := b.tx.Bucket([]byte(t))
	if bk == nil {
		return nil, bolt.ErrBucketNotFound
	}
	return bk, nil
}

func (b *boltTx) Get(t Table, key []byte) ([]byte, error) {
	bk, err := b.bucket(t)
	if err != nil {
		return nil, err
	}
	v := bk.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	// bolt values are only valid for the life of the transaction
	return append([]byte(nil), v...), nil
}

func (b *boltTx) Put(t Table, key, value []byte) error {
	bk, err := b.bucket(t)
	if err != nil {
		return err
	}
	return bk.Put(key, value)
}

func (b *boltTx) Delete(t Table, key []byte) error {
	bk, err := b.bucket(t)
	if err != nil {
		return err
	}
	return bk.Delete(key)
}

func (b *boltTx) Scan(t Table, prefix, start []byte, fn func(key, value []byte) bool) error {
	bk, err := b.bucket(t)
	if err != nil {
		return err
	}

	seek := prefix
	if start != nil && bytes.Compare(start, prefix) > 0 {
		seek = start
	}

	c := bk.Cursor()
	for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(append([]byte(nil), k...), append([]byte(nil), v...)) {
			break
		}
	}
	return nil
}
