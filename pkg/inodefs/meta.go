package inodefs

import (
	"encoding/binary"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var nextInoKey = []byte("nextino")

// symlinkRecord is the value of the symlink table.
type symlinkRecord struct {
	Target types.InodeID `json:"target"`
	// as passed to symlink()
	Path string `json:"path"`
	// absolute form of Path
	Abs string `json:"abs"`
}

func inoKey(ino types.InodeID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ino))
	return b
}

func decodeIno(b []byte) types.InodeID {
	return types.InodeID(binary.BigEndian.Uint64(b))
}

func lookupIno(tx kv.Tx, p string) (types.InodeID, error) {
	v, err := tx.Get(kv.TableTree, []byte(p))
	if err == kv.ErrNotFound {
		return types.InvalidInodeID, types.ENOENT
	}
	if err != nil {
		return types.InvalidInodeID, err
	}
	return decodeIno(v), nil
}

func getInode(tx kv.Tx, ino types.InodeID) (*types.Inode, error) {
	v, err := tx.Get(kv.TableMeta, inoKey(ino))
	if err == kv.ErrNotFound {
		return nil, types.ENOENT
	}
	if err != nil {
		return nil, err
	}

	inode := &types.Inode{}
	if err := json.Unmarshal(v, inode); err != nil {
		return nil, err
	}
	return inode, nil
}

func putInode(tx kv.Tx, inode *types.Inode) error {
	v, err := json.Marshal(inode)
	if err != nil {
		return err
	}
	return tx.Put(kv.TableMeta, inoKey(inode.Ino), v)
}

func getContent(tx kv.Tx, ino types.InodeID) ([]byte, error) {
	v, err := tx.Get(kv.TableFile, inoKey(ino))
	if err == kv.ErrNotFound {
		return []byte{}, nil
	}
	return v, err
}

func putContent(tx kv.Tx, ino types.InodeID, data []byte) error {
	return tx.Put(kv.TableFile, inoKey(ino), data)
}

func getSymlink(tx kv.Tx, ino types.InodeID) (*symlinkRecord, error) {
	v, err := tx.Get(kv.TableSymlink, inoKey(ino))
	if err == kv.ErrNotFound {
		return nil, types.ENOENT
	}
	if err != nil {
		return nil, err
	}

	rec := &symlinkRecord{}
	if err := json.Unmarshal(v, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func putSymlink(tx kv.Tx, ino types.InodeID, rec *symlinkRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Put(kv.TableSymlink, inoKey(ino), v)
}

// moveSymlinkTargets rewrites the Abs of every link whose target lies
// under oldpath after oldpath was renamed to newpath.
func moveSymlinkTargets(tx kv.Tx, oldpath, newpath string) error {
	moved := map[string]*symlinkRecord{}
	var bad error
	err := tx.Scan(kv.TableSymlink, nil, nil, func(k, v []byte) bool {
		rec := &symlinkRecord{}
		if bad = json.Unmarshal(v, rec); bad != nil {
			return false
		}
		if vfs.IsUnder(rec.Abs, oldpath) {
			rec.Abs = newpath + rec.Abs[len(oldpath):]
			moved[string(k)] = rec
		}
		return true
	})
	if err != nil {
		return err
	}
	if bad != nil {
		return bad
	}

	for k, rec := range moved {
		v, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Put(kv.TableSymlink, []byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func allocIno(tx kv.Tx) (types.InodeID, error) {
	next := types.RootInodeID
	v, err := tx.Get(kv.TableSys, nextInoKey)
	if err == nil {
		next = decodeIno(v)
	} else if err != kv.ErrNotFound {
		return types.InvalidInodeID, err
	}

	if err := tx.Put(kv.TableSys, nextInoKey, inoKey(next+1)); err != nil {
		return types.InvalidInodeID, err
	}
	return next, nil
}

// childPrefix is the tree key prefix shared by every descendant of dir.
func childPrefix(dir string) string {
	if dir == "/" {
		return "/"
	}
	return dir + "/"
}

// hasChildren reports whether dir has at least one tree entry below it.
func hasChildren(tx kv.Tx, dir string) (bool, error) {
	found := false
	err := tx.Scan(kv.TableTree, []byte(childPrefix(dir)), nil, func(k, v []byte) bool {
		found = true
		return false
	})
	return found, err
}

// descendants lists every tree path below dir.
func descendants(tx kv.Tx, dir string) ([]string, error) {
	paths := []string{}
	err := tx.Scan(kv.TableTree, []byte(childPrefix(dir)), nil, func(k, v []byte) bool {
		paths = append(paths, string(k))
		return true
	})
	return paths, err
}

// directChild returns the child name of key under prefix, or "" when the
// key lies deeper than one segment.
func directChild(prefix string, key string) string {
	name := key[len(prefix):]
	if name == "" || strings.Contains(name, "/") {
		return ""
	}
	return name
}
