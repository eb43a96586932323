// Package cache keeps transformed classes between builds, keyed by every
// input that affects the output. Entries carry plaintext strings for the
// mapping file, so they are sealed with a key derived from the build key.
package cache

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/rogpeppe/go-internal/cache"
)

// ActionID identifies one class transformation.
type ActionID = cache.ActionID

// Record is one rewritten string of a cached class.
type Record struct {
	Plain   string
	Encoded string
}

// Entry is the cached outcome of transforming one class.
type Entry struct {
	Class    []byte
	Changed  bool
	Records  []Record
	Warnings []string
}

// Cache is a content addressed store of Entries. It is safe for concurrent
// use, including by several processes sharing a directory.
type Cache struct {
	fs   *cache.Cache
	seed []byte
}

// Open opens or creates the cache below dir. seed keys the sealing of
// entries; opening the same directory with another seed reads as empty.
func Open(dir string, seed []byte) (*Cache, error) {
	// Use a subdirectory, so that dir may hold other state later on.
	dir = filepath.Join(dir, "classes")
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	fs, err := cache.Open(dir)
	if err != nil {
		return nil, err
	}
	return &Cache{fs: fs, seed: append([]byte(nil), seed...)}, nil
}

// Key hashes parts into an ActionID. Parts are length prefixed, so moving
// bytes between neighbouring parts changes the key.
func Key(parts ...[]byte) ActionID {
	h := cache.NewHash("stringfog")
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return ActionID(h.Sum())
}

// Get returns the entry for id. Any failure to load it, such as a missing,
// truncated or foreign entry, is a miss.
func (c *Cache) Get(id ActionID) (Entry, bool) {
	data, _, err := c.fs.GetBytes(id)
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := Decrypt(data, c.seed, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// Put stores e under id.
func (c *Cache) Put(id ActionID, e Entry) error {
	data, err := Encrypt(e, c.seed)
	if err != nil {
		return err
	}
	return c.fs.PutBytes(id, data)
}
