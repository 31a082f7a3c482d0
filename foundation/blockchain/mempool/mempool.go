// Package mempool maintains the pending transactions waiting to be mined.
package mempool

import (
	"sync"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

// entry records a transaction with its arrival sequence.
type entry struct {
	tx  database.Transaction
	seq uint64
}

// Mempool represents a cache of transactions keyed by transaction hash.
type Mempool struct {
	mu   sync.RWMutex
	pool map[string]entry
	seq  uint64
}

// New constructs a new, empty mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]entry),
	}
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction in the mempool. A replaced
// transaction keeps its original position.
func (mp *Mempool) Upsert(tx database.Transaction) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := tx.Hash()

	e, exists := mp.pool[key]
	if !exists {
		mp.seq++
		e.seq = mp.seq
	}
	e.tx = tx
	mp.pool[key] = e

	return len(mp.pool)
}

// Exists reports whether a transaction with the specified hash is pending.
func (mp *Mempool) Exists(hash string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[hash]
	return exists
}

// Delete removes the transactions with the specified hashes.
func (mp *Mempool) Delete(hashes ...string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, hash := range hashes {
		delete(mp.pool, hash)
	}
}

// DeleteIncluded removes every transaction included in the block.
func (mp *Mempool) DeleteIncluded(block database.Block) {
	hashes := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		hashes[i] = tx.Hash()
	}

	mp.Delete(hashes...)
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]entry)
}

// PendingSpend returns the total amount the address is already spending
// through pending transactions.
func (mp *Mempool) PendingSpend(address database.Address) database.Amount {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var total database.Amount
	for _, e := range mp.pool {
		if e.tx.FromAddress != nil && *e.tx.FromAddress == address {
			total += e.tx.Amount
		}
	}

	return total
}

// Copy returns every pending transaction in arrival order.
func (mp *Mempool) Copy() []database.Transaction {
	return mp.PickBest(-1)
}

// PickBest returns up to howMany transactions for the next block in
// arrival order. Pass -1 for all the transactions.
func (mp *Mempool) PickBest(howMany int) []database.Transaction {
	mp.mu.RLock()
	entries := make([]entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}
	mp.mu.RUnlock()

	return selectByArrival(entries, howMany)
}
