package inodefs

import (
	"context"

	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

func (fs *FS) SetStepHook(h func(op, p string)) {
	fs.afterStep = h
}

// Records reports which tables still hold an entry for ino.
func (fs *FS) Records(ctx context.Context, ino types.InodeID) (map[kv.Table]bool, error) {
	found := map[kv.Table]bool{}
	err := fs.store.View(ctx, func(tx kv.Tx) error {
		for _, t := range []kv.Table{kv.TableMeta, kv.TableFile, kv.TableSymlink} {
			_, err := tx.Get(t, inoKey(ino))
			if err == nil {
				found[t] = true
			} else if err != kv.ErrNotFound {
				return err
			}
		}
		return nil
	})
	return found, err
}
