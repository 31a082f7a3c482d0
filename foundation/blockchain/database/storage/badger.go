package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/mathcoin/node/foundation/blockchain/database"
)

// Keys:
// Block by Height: "block:height:<%020d height>" -> json block
//
// Heights are zero padded so badger's key order matches chain order.
const heightPrefix = "block:height:"

func heightKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", heightPrefix, index))
}

// Badger implements the database.Storage interface on top of BadgerDB.
type Badger struct {
	db *badger.DB
}

// NewBadger creates or opens a BadgerDB store at the given path. If path is
// empty, it opens an in-memory store.
func NewBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Badger{db: db}, nil
}

// Close closes the underlying badger database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Write stores the block under its height.
func (b *Badger) Write(block database.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(heightKey(block.Index), data)
	})
}

// GetBlock returns the block stored for the specified height.
func (b *Badger) GetBlock(index uint64) (database.Block, error) {
	var block database.Block

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(heightKey(index))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return database.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &block)
		})
	})
	if err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// ForEach returns an iterator to walk through the stored blocks by height.
func (b *Badger) ForEach() database.Iterator {
	return &BadgerIterator{store: b}
}

// Reset drops every stored block.
func (b *Badger) Reset() error {
	return b.db.DropPrefix([]byte(heightPrefix))
}

// =============================================================================

// BadgerIterator walks the blocks stored in badger by height.
type BadgerIterator struct {
	store   *Badger
	current uint64
	eoc     bool
}

// Next retrieves the next block from badger.
func (bi *BadgerIterator) Next() (database.Block, error) {
	if bi.eoc {
		return database.Block{}, errEndOfChain
	}

	block, err := bi.store.GetBlock(bi.current)
	if errors.Is(err, database.ErrNotFound) {
		bi.eoc = true
		return database.Block{}, nil
	}
	bi.current++

	return block, err
}

// Done returns the end of chain value.
func (bi *BadgerIterator) Done() bool {
	return bi.eoc
}
