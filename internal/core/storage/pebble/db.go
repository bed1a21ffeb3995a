package pebble

import (
	"io"

	"github.com/cockroachdb/pebble"
)

// DB is the subset of *pebble.DB the engine uses; tests substitute it to
// inject failures.
type DB interface {
	// Get returns pebble.ErrNotFound if the key is absent. On success the
	// caller must close the returned Closer.
	Get(key []byte) (value []byte, closer io.Closer, err error)
	NewIter(o *pebble.IterOptions) (Iterator, error)
	Set(key, value []byte, o *pebble.WriteOptions) error
	Close() error
}

// Iterator is the subset of *pebble.Iterator the engine uses.
type Iterator interface {
	First() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Next() bool
	Error() error
	Close() error
}

type pebbleDB struct {
	db *pebble.DB
}

func (p *pebbleDB) Get(key []byte) ([]byte, io.Closer, error) {
	return p.db.Get(key)
}

func (p *pebbleDB) NewIter(o *pebble.IterOptions) (Iterator, error) {
	return p.db.NewIter(o)
}

func (p *pebbleDB) Set(key, value []byte, o *pebble.WriteOptions) error {
	return p.db.Set(key, value, o)
}

func (p *pebbleDB) Close() error {
	return p.db.Close()
}
