package chainsync

import (
	"context"
	"errors"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

// errEmptyResponse marks a response that carried nothing. It counts as a
// failed attempt.
var errEmptyResponse = errors.New("empty response")

// syncBlocks requests the remaining range from the block after the tip and
// appends the blocks in order. Requests repeat while the peer reports more
// blocks and the target is not reached.
func (e *Engine) syncBlocks(ctx context.Context, peerID string, target uint64) error {
	ev := e.cfg.EvHandler

	for {
		latest := e.cfg.Ledger.LatestBlock()
		if latest.Index >= target {
			return nil
		}

		start := latest.Index + 1
		ev("chainsync: syncBlocks: requesting: peer[%s]: start[%d]: limit[%d]", peerID, start, e.cfg.BlockBatchSize)

		var blocks []database.Block
		var hasMore bool
		err := e.attempt(ctx, start, func(ctx context.Context) error {
			var err error
			blocks, hasMore, err = e.cfg.Network.RequestBlocks(ctx, peerID, start, e.cfg.BlockBatchSize)
			if err == nil && len(blocks) == 0 {
				err = errEmptyResponse
			}
			return err
		})
		if err != nil {
			return err
		}

		for _, block := range blocks {
			if err := e.appendBlock(block); err != nil {
				return err
			}
			e.setCurrent(block.Index)
		}

		if !hasMore {
			return nil
		}
	}
}

// syncHeaders fetches and validates headers in batches up to the target,
// then downloads the blocks they describe.
func (e *Engine) syncHeaders(ctx context.Context, peerID string, target uint64) error {
	ev := e.cfg.EvHandler

	latest := e.cfg.Ledger.LatestBlock()
	prevIndex, prevHash := latest.Index, latest.Hash

	for start := prevIndex + 1; start <= target; start = prevIndex + 1 {
		end := min(start+uint64(e.cfg.HeaderBatchSize)-1, target)
		ev("chainsync: syncHeaders: requesting: peer[%s]: headers[%d-%d]", peerID, start, end)

		var headers []database.BlockHeader
		err := e.attempt(ctx, start, func(ctx context.Context) error {
			var err error
			headers, err = e.cfg.Network.RequestHeaders(ctx, peerID, start, end)
			if err == nil && len(headers) == 0 {
				err = errEmptyResponse
			}
			return err
		})
		if err != nil {
			return err
		}

		e.mu.Lock()
		for _, h := range headers {
			if err := h.ValidateNext(prevIndex, prevHash, e.cfg.Difficulty); err != nil {
				e.mu.Unlock()
				return &Error{Kind: ErrInvalidHeader, Height: h.Index, Err: err}
			}
			e.state.headers[h.Index] = h
			e.state.headerHeight = h.Index
			prevIndex, prevHash = h.Index, h.Hash
		}
		e.mu.Unlock()
	}

	ev("chainsync: syncHeaders: headers complete: height[%d]", prevIndex)

	return e.downloadBlocks(ctx, peerID, latest.Index+1, prevIndex)
}

// downloadBlocks fetches the blocks for the stored headers one height at a
// time. A block whose recomputed hash differs from its header aborts the
// sync. Blocks already appended are kept.
func (e *Engine) downloadBlocks(ctx context.Context, peerID string, from uint64, to uint64) error {
	ev := e.cfg.EvHandler
	ev("chainsync: downloadBlocks: started: peer[%s]: blocks[%d-%d]", peerID, from, to)

	for height := from; height <= to; height++ {
		e.mu.Lock()
		if e.state.pendingBlocks.Contains(height) {
			e.mu.Unlock()
			continue
		}
		e.state.pendingBlocks.Add(height)
		header := e.state.headers[height]
		e.mu.Unlock()

		if e.cfg.Ledger.LatestBlock().Index >= height {
			ev("chainsync: downloadBlocks: already held: height[%d]", height)
			e.mu.Lock()
			e.state.pendingBlocks.Remove(height)
			e.state.currentHeight = height
			e.mu.Unlock()
			continue
		}

		var block database.Block
		err := e.attempt(ctx, height, func(ctx context.Context) error {
			blocks, _, err := e.cfg.Network.RequestBlocks(ctx, peerID, height, 1)
			switch {
			case err != nil:
				return err
			case len(blocks) == 0 || blocks[0].Index != height:
				return errEmptyResponse
			}
			block = blocks[0]
			return nil
		})
		if err != nil {
			return err
		}

		if block.Hash != header.Hash || block.ComputeHash() != header.Hash {
			return &Error{Kind: ErrHeaderHashMismatch, Height: height}
		}

		if err := e.appendBlock(block); err != nil {
			return err
		}

		e.mu.Lock()
		e.state.pendingBlocks.Remove(height)
		e.state.currentHeight = height
		e.mu.Unlock()
	}

	return nil
}

// appendBlock appends the block unless the ledger already holds its height.
// The same block may arrive by gossip while a sync is running.
func (e *Engine) appendBlock(block database.Block) error {
	if e.cfg.Ledger.LatestBlock().Index >= block.Index {
		e.cfg.EvHandler("chainsync: appendBlock: already held: height[%d]", block.Index)
		return nil
	}

	if err := e.cfg.Ledger.AppendBlock(block); err != nil {
		if e.cfg.Ledger.LatestBlock().Index >= block.Index {
			e.cfg.EvHandler("chainsync: appendBlock: appended concurrently: height[%d]", block.Index)
			return nil
		}
		return &Error{Kind: ErrBlockRejected, Height: block.Index, Err: err}
	}

	return nil
}

// attempt performs the request under the request timeout, retrying up to
// the configured number of retries after the first failure.
func (e *Engine) attempt(ctx context.Context, height uint64, fn func(ctx context.Context) error) error {
	var lastErr error

	for try := 0; try <= e.cfg.MaxRetries; try++ {
		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		err := fn(reqCtx)
		cancel()

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		e.cfg.EvHandler("chainsync: attempt: height[%d]: try[%d]: ERROR: %s", height, try+1, err)
	}

	return &Error{Kind: ErrRetriesExhausted, Height: height, Err: lastErr}
}
