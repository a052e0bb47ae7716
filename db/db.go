package db

import "errors"

// ErrNotFound is returned by every backend when a key does not exist.
var ErrNotFound = errors.New("db: key not found")

type IDB interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error

	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)

	// Iterate calls fn for every key with the given prefix in ascending key order.
	// Returning false from fn stops the iteration.
	Iterate(prefix []byte, fn func(key, value []byte) (bool, error)) error
	// Write applies all operations of the batch atomically.
	Write(batch *Batch) error

	Close() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes that must land together.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

func (b *Batch) Len() int {
	return len(b.ops)
}
