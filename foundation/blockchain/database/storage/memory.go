package storage

import (
	"sync"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

// Memory keeps the blockchain in memory. It's used by tests and by nodes
// started without a data directory.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.Block
}

// NewMemory constructs an empty Memory value for use.
func NewMemory() *Memory {
	return &Memory{}
}

// Close has nothing to release.
func (m *Memory) Close() error {
	return nil
}

// Write appends the block, replacing any block already stored at that index
// and everything after it.
func (m *Memory) Write(block database.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if block.Index < uint64(len(m.blocks)) {
		m.blocks = m.blocks[:block.Index]
	}
	m.blocks = append(m.blocks, block)

	return nil
}

// ForEach returns an iterator over a snapshot of the stored blocks.
func (m *Memory) ForEach() database.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]database.Block, len(m.blocks))
	copy(blocks, m.blocks)

	return &MemoryIterator{blocks: blocks}
}

// Reset drops every stored block.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	return nil
}

// =============================================================================

// MemoryIterator walks a snapshot of the blocks held in memory.
type MemoryIterator struct {
	blocks  []database.Block
	current int
	eoc     bool
}

// Next returns the next block in the snapshot.
func (mi *MemoryIterator) Next() (database.Block, error) {
	if mi.eoc {
		return database.Block{}, errEndOfChain
	}

	if mi.current >= len(mi.blocks) {
		mi.eoc = true
		return database.Block{}, nil
	}

	block := mi.blocks[mi.current]
	mi.current++

	return block, nil
}

// Done returns the end of chain value.
func (mi *MemoryIterator) Done() bool {
	return mi.eoc
}
