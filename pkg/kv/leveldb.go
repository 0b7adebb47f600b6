package kv

import (
	"bytes"
	"context"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ Store = (*LevelStore)(nil)

// LevelStore keeps every table in one leveldb keyspace, each key prefixed
// with its table name.
type LevelStore struct {
	db *leveldb.DB
}

func OpenLevel(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func OpenLevelMem() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := s.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	return fn(&levelTx{r: snap})
}

func (s *LevelStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tr, err := s.db.OpenTransaction()
	if err != nil {
		return err
	}

	if err := fn(&levelTx{r: tr, w: tr}); err != nil {
		tr.Discard()
		return err
	}
	return tr.Commit()
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type levelTx struct {
	r levelReader
	w *leveldb.Transaction
}

func tableKey(t Table, key []byte) []byte {
	k := make([]byte, 0, len(t)+1+len(key))
	k = append(k, t...)
	k = append(k, '/')
	return append(k, key...)
}

func (tx *levelTx) Get(t Table, key []byte) ([]byte, error) {
	v, err := tx.r.Get(tableKey(t, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (tx *levelTx) Put(t Table, key, value []byte) error {
	if tx.w == nil {
		return leveldb.ErrReadOnly
	}
	return tx.w.Put(tableKey(t, key), value, nil)
}

func (tx *levelTx) Delete(t Table, key []byte) error {
	if tx.w == nil {
		return leveldb.ErrReadOnly
	}
	return tx.w.Delete(tableKey(t, key), nil)
}

func (tx *levelTx) Scan(t Table, prefix, start []byte, fn func(key, value []byte) bool) error {
	rng := util.BytesPrefix(tableKey(t, prefix))
	if start != nil {
		if sk := tableKey(t, start); bytes.Compare(sk, rng.Start) > 0 {
			rng.Start = sk
		}
	}

	iter := tx.r.NewIterator(rng, nil)
	defer iter.Release()

	skip := len(t) + 1
	for iter.Next() {
		k := append([]byte(nil), iter.Key()[skip:]...)
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}
