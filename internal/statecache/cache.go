// Package statecache remembers what was last uploaded to each key so an
// unchanged file can skip its upload on the next deploy.
package statecache

import (
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zeebo/blake3"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// Cache records are keyed "d:{namespace}\x00{key}" so one state dir can
// serve several buckets or prefixes.
type Cache struct {
	db        *leveldb.DB
	namespace string
}

// Open opens (or creates) the leveldb database at dir. namespace usually
// identifies the target bucket and prefix.
func Open(dir, namespace string) (*Cache, error) {
	if dir == "" {
		return nil, xerrors.New("statecache: dir is required")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open state cache %s", dir)
	}
	return &Cache{db: db, namespace: namespace}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) prefix() []byte {
	return []byte("d:" + c.namespace + "\x00")
}

func (c *Cache) dbKey(key string) []byte {
	return append(c.prefix(), key...)
}

// Unchanged reports whether digest matches the last recorded upload of key.
// Read errors count as changed so the file is uploaded again.
func (c *Cache) Unchanged(key, digest string) bool {
	v, err := c.db.Get(c.dbKey(key), nil)
	if err != nil {
		return false
	}
	return string(v) == digest
}

// Record stores digest as the latest successful upload of key
func (c *Cache) Record(key, digest string) error {
	if err := c.db.Put(c.dbKey(key), []byte(digest), nil); err != nil {
		return xerrors.Wrapf(err, "record state for %s", key)
	}
	return nil
}

// Forget drops key, forcing its next upload
func (c *Cache) Forget(key string) error {
	err := c.db.Delete(c.dbKey(key), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return xerrors.Wrapf(err, "forget state for %s", key)
	}
	return nil
}

// Keys lists recorded keys in this namespace, sorted
func (c *Cache) Keys() ([]string, error) {
	p := c.prefix()
	it := c.db.NewIterator(util.BytesPrefix(p), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(p):]))
	}
	if err := it.Error(); err != nil {
		return nil, xerrors.Wrap(err, "iterate state cache")
	}
	sort.Strings(out)
	return out, nil
}

// Digest hashes the final headers and payload of an upload. Headers are
// folded in sorted order so map iteration never changes the digest.
func Digest(headers map[string]string, data []byte) string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	h := blake3.New()
	for _, k := range names {
		h.Write([]byte(strings.ToLower(k)))
		h.Write([]byte{0})
		h.Write([]byte(headers[k]))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
