// Package database handles all the lower level support for maintaining the
// blockchain in memory and on disk, validating every block before it is
// accepted.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mathcoin/node/foundation/blockchain/genesis"
)

// ErrNotFound is returned when a block is requested for a height the chain
// does not hold.
var ErrNotFound = errors.New("block not found")

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Storage interface {
	Write(block Block) error
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks in index order,
// starting with the genesis block.
type Iterator interface {
	Next() (Block, error)
	Done() bool
}

// =============================================================================

// Database manages the chain of blocks. All writes go through AppendBlock,
// which validates the block and leaves the chain untouched on failure.
type Database struct {
	mu sync.RWMutex

	genesis   genesis.Genesis
	blocks    []Block
	confirmed map[string]struct{}

	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a new database from the blocks held by the storage. Every
// stored block is validated again as it is loaded. An empty storage is
// initialized with the genesis block.
func New(gen genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		genesis:   gen,
		confirmed: make(map[string]struct{}),
		storage:   storage,
		evHandler: ev,
	}

	genesisBlock := Genesis(gen)

	iter := storage.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return nil, fmt.Errorf("loading block: %w", err)
		}

		if len(db.blocks) == 0 {
			if block.Hash != genesisBlock.Hash {
				return nil, fmt.Errorf("stored genesis block %s does not match %s", block.Hash, genesisBlock.Hash)
			}
			db.blocks = append(db.blocks, block)
			continue
		}

		if err := db.validateNext(block); err != nil {
			return nil, fmt.Errorf("stored block %d: %w", block.Index, err)
		}
		db.accept(block)
	}

	if len(db.blocks) == 0 {
		if err := storage.Write(genesisBlock); err != nil {
			return nil, fmt.Errorf("writing genesis block: %w", err)
		}
		db.blocks = append(db.blocks, genesisBlock)
	}

	ev("database: New: loaded: blocks[%d]: latest[%s]", len(db.blocks), db.blocks[len(db.blocks)-1].Hash)

	return &db, nil
}

// Close closes the open blocks database.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Reset re-initializes the database back to the genesis state.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Reset(); err != nil {
		return err
	}

	genesisBlock := Genesis(db.genesis)
	if err := db.storage.Write(genesisBlock); err != nil {
		return err
	}

	db.blocks = []Block{genesisBlock}
	db.confirmed = make(map[string]struct{})

	return nil
}

// Genesis returns the genesis document the chain was built from.
func (db *Database) Genesis() genesis.Genesis {
	return db.genesis
}

// =============================================================================

// AppendBlock validates the block against the latest block and, on success,
// persists it and extends the chain. A rejected block returns a
// *ValidationError and leaves the chain unchanged.
func (db *Database) AppendBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.validateNext(block); err != nil {
		db.evHandler("database: AppendBlock: REJECTED: blk[%d]: %s", block.Index, err)
		return err
	}

	if err := db.storage.Write(block); err != nil {
		return fmt.Errorf("writing block %d: %w", block.Index, err)
	}

	db.accept(block)

	db.evHandler("database: AppendBlock: blk[%d]: hash[%s]: trans[%d]", block.Index, block.Hash, len(block.Transactions))

	return nil
}

// accept extends the chain. The caller must hold the lock and have
// validated the block.
func (db *Database) accept(block Block) {
	for _, tx := range block.Transactions {
		if !tx.IsCoinbase() {
			db.confirmed[tx.Hash()] = struct{}{}
		}
	}

	db.blocks = append(db.blocks, block)
}

// validateNext checks the block can extend the current chain.
func (db *Database) validateNext(block Block) error {
	latest := db.blocks[len(db.blocks)-1]

	if block.Index != latest.Index+1 {
		return invalid(ErrIndexOutOfOrder, "got %d, exp %d", block.Index, latest.Index+1)
	}

	if block.PreviousHash != latest.Hash {
		return invalid(ErrBrokenLinkage, "block %d: got %s, exp %s", block.Index, block.PreviousHash, latest.Hash)
	}

	if hash := block.ComputeHash(); hash != block.Hash {
		return invalid(ErrHashMismatch, "block %d: got %s, exp %s", block.Index, block.Hash, hash)
	}

	if !IsHashSolved(db.genesis.Difficulty, block.Hash) {
		return invalid(ErrInsufficientWork, "block %d: hash %s, difficulty %d", block.Index, block.Hash, db.genesis.Difficulty)
	}

	if seed := MathSeed(block.Index); block.MathSeed != seed || block.CoinValue != CoinValue(seed) {
		return invalid(ErrMalformedBlock, "block %d: math seed or coin value does not derive from the index", block.Index)
	}

	var coinbase int
	seen := make(map[string]struct{}, len(block.Transactions))

	for _, tx := range block.Transactions {
		if err := tx.Validate(); err != nil {
			return err
		}

		if tx.IsCoinbase() {
			coinbase++
			if coinbase > 1 {
				return invalid(ErrInvalidCoinbase, "block %d: more than one coinbase transaction", block.Index)
			}
			if uint64(tx.Amount) > db.genesis.MiningReward {
				return invalid(ErrInvalidCoinbase, "block %d: reward %s exceeds %s", block.Index, tx.Amount, Amount(db.genesis.MiningReward))
			}
			continue
		}

		hash := tx.Hash()
		if _, exists := db.confirmed[hash]; exists {
			return invalid(ErrDuplicateTransaction, "block %d: tx %s already confirmed", block.Index, hash)
		}
		if _, exists := seen[hash]; exists {
			return invalid(ErrDuplicateTransaction, "block %d: tx %s included twice", block.Index, hash)
		}
		seen[hash] = struct{}{}
	}

	return nil
}

// IsChainValid walks the chain verifying the genesis block, linkage, that
// every stored hash recomputes and that every transaction validates on its
// own. Historical balances are not checked.
func (db *Database) IsChainValid() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if gb := db.blocks[0]; gb.Hash != Genesis(db.genesis).Hash || gb.ComputeHash() != gb.Hash {
		return false
	}

	for i := 1; i < len(db.blocks); i++ {
		prev := db.blocks[i-1]
		block := db.blocks[i]

		if block.PreviousHash != prev.Hash {
			return false
		}

		if block.ComputeHash() != block.Hash {
			return false
		}

		for _, tx := range block.Transactions {
			if tx.Validate() != nil {
				return false
			}
		}
	}

	return true
}

// =============================================================================

// LatestBlock returns the latest block.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.blocks[len(db.blocks)-1]
}

// Height returns the index of the latest block.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.blocks[len(db.blocks)-1].Index
}

// GetBlock returns the block at the specified index.
func (db *Database) GetBlock(index uint64) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if index >= uint64(len(db.blocks)) {
		return Block{}, ErrNotFound
	}

	return db.blocks[index], nil
}

// Range returns up to limit blocks starting at the specified index.
func (db *Database) Range(start uint64, limit int) []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	total := uint64(len(db.blocks))
	if start >= total || limit <= 0 {
		return nil
	}

	end := start + uint64(limit)
	if end > total {
		end = total
	}

	blocks := make([]Block, end-start)
	copy(blocks, db.blocks[start:end])

	return blocks
}

// Headers returns the headers for the blocks from start to end inclusive,
// bounded by the latest block.
func (db *Database) Headers(start uint64, end uint64) []BlockHeader {
	db.mu.RLock()
	defer db.mu.RUnlock()

	total := uint64(len(db.blocks))
	if start > end || start >= total {
		return nil
	}

	if end >= total {
		end = total - 1
	}

	headers := make([]BlockHeader, 0, end-start+1)
	for i := start; i <= end; i++ {
		headers = append(headers, db.blocks[i].Header())
	}

	return headers
}

// =============================================================================

// BalanceOf replays the confirmed chain and returns the balance of the
// address. Pending transactions are not considered.
func (db *Database) BalanceOf(address Address) int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.balanceOf(address)
}

func (db *Database) balanceOf(address Address) int64 {
	var balance int64

	for _, block := range db.blocks {
		for _, tx := range block.Transactions {
			if tx.FromAddress != nil && *tx.FromAddress == address {
				balance -= int64(tx.Amount)
			}
			if tx.ToAddress == address {
				balance += int64(tx.Amount)
			}
		}
	}

	return balance
}

// Balances replays the confirmed chain and returns the balance of every
// address that has transacted.
func (db *Database) Balances() map[Address]int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	balances := make(map[Address]int64)
	for _, block := range db.blocks {
		for _, tx := range block.Transactions {
			if tx.FromAddress != nil {
				balances[*tx.FromAddress] -= int64(tx.Amount)
			}
			balances[tx.ToAddress] += int64(tx.Amount)
		}
	}

	return balances
}

// MintedSupply returns the sum of every coinbase amount on the chain.
func (db *Database) MintedSupply() int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var supply int64
	for _, block := range db.blocks {
		for _, tx := range block.Transactions {
			if tx.IsCoinbase() {
				supply += int64(tx.Amount)
			}
		}
	}

	return supply
}

// ValidateSpend checks a transaction submitted for the pending pool. The
// sender's confirmed balance, less what the sender already has pending,
// must cover the amount.
func (db *Database) ValidateSpend(tx Transaction, pendingSpend Amount) error {
	if tx.IsCoinbase() {
		return invalid(ErrInvalidCoinbase, "coinbase transactions can't be submitted")
	}

	if err := tx.Validate(); err != nil {
		return err
	}

	if tx.Amount == 0 {
		return invalid(ErrMalformedTransaction, "amount must be positive")
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	hash := tx.Hash()
	if _, exists := db.confirmed[hash]; exists {
		return invalid(ErrDuplicateTransaction, "tx %s already confirmed", hash)
	}

	balance := db.balanceOf(*tx.FromAddress)
	if balance < 0 || uint64(pendingSpend) > uint64(balance) {
		return invalid(ErrInsufficientFunds, "balance %d, pending %d", balance, uint64(pendingSpend))
	}

	if available := uint64(balance) - uint64(pendingSpend); uint64(tx.Amount) > available {
		return invalid(ErrInsufficientFunds, "available %d, needed %d", available, uint64(tx.Amount))
	}

	return nil
}
