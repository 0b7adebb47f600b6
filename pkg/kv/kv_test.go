package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	open  func() (Store, error)
	store Store
	ctx   context.Context
}

func TestLevelStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func() (Store, error) { return OpenLevelMem() }})
}

func TestBoltStoreSuite(t *testing.T) {
	s := &StoreSuite{}
	s.open = func() (Store, error) {
		return OpenBolt(filepath.Join(s.T().TempDir(), "vfs.db"))
	}
	suite.Run(t, s)
}

func (s *StoreSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.store, err = s.open()
	s.Require().Nil(err)
}

func (s *StoreSuite) TearDownTest() {
	s.store.Close()
}

func (s *StoreSuite) put(t Table, k, v string) {
	err := s.store.Update(s.ctx, func(tx Tx) error {
		return tx.Put(t, []byte(k), []byte(v))
	})
	s.Require().Nil(err)
}

func (s *StoreSuite) TestGetPutDelete() {
	s.put(TableTree, "/a", "1")

	err := s.store.View(s.ctx, func(tx Tx) error {
		v, err := tx.Get(TableTree, []byte("/a"))
		s.Nil(err)
		s.Equal("1", string(v))

		_, err = tx.Get(TableMeta, []byte("/a"))
		s.Equal(ErrNotFound, err)
		return nil
	})
	s.Nil(err)

	err = s.store.Update(s.ctx, func(tx Tx) error {
		return tx.Delete(TableTree, []byte("/a"))
	})
	s.Nil(err)

	err = s.store.View(s.ctx, func(tx Tx) error {
		_, err := tx.Get(TableTree, []byte("/a"))
		return err
	})
	s.Equal(ErrNotFound, err)
}

func (s *StoreSuite) TestUpdateRollback() {
	boom := errors.New("boom")
	err := s.store.Update(s.ctx, func(tx Tx) error {
		s.Nil(tx.Put(TableTree, []byte("/x"), []byte("1")))
		return boom
	})
	s.Equal(boom, err)

	err = s.store.View(s.ctx, func(tx Tx) error {
		_, err := tx.Get(TableTree, []byte("/x"))
		return err
	})
	s.Equal(ErrNotFound, err)
}

func (s *StoreSuite) TestScanOrderedByKey() {
	for _, k := range []string{"/d/b", "/d/a", "/e", "/d/c/x", "/c"} {
		s.put(TableTree, k, "v")
	}
	s.put(TableMeta, "/d/zz", "other table")

	var keys []string
	err := s.store.View(s.ctx, func(tx Tx) error {
		return tx.Scan(TableTree, []byte("/d/"), nil, func(k, v []byte) bool {
			keys = append(keys, string(k))
			return true
		})
	})
	s.Nil(err)
	s.Equal([]string{"/d/a", "/d/b", "/d/c/x"}, keys)

	keys = nil
	err = s.store.View(s.ctx, func(tx Tx) error {
		return tx.Scan(TableTree, []byte("/d/"), []byte("/d/b"), func(k, v []byte) bool {
			keys = append(keys, string(k))
			return len(keys) < 1
		})
	})
	s.Nil(err)
	s.Equal([]string{"/d/b"}, keys)
}

func (s *StoreSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err := s.store.Update(ctx, func(tx Tx) error { return nil })
	s.Equal(context.Canceled, err)
}
