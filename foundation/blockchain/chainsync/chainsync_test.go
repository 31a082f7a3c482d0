package chainsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/chainsync"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/database/storage"
	"github.com/mathcoin/node/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const miner = database.Address("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")

func noop(v string, args ...any) {}

func testGenesis() genesis.Genesis {
	return genesis.Genesis{
		Date:         time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Network:      "test",
		Difficulty:   0,
		MiningReward: uint64(database.Coins(50)),
	}
}

func newLedger(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.New(testGenesis(), storage.NewMemory(), noop)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the ledger: %s", failed, err)
	}

	return db
}

// newChain builds a ledger of the specified height.
func newChain(t *testing.T, height uint64) *database.Database {
	t.Helper()

	db := newLedger(t)
	for i := uint64(1); i <= height; i++ {
		latest := db.LatestBlock()
		trans := []database.Transaction{database.NewCoinbase(miner, database.Coins(50), int64(i))}

		block, err := database.POW(context.Background(), database.NewBlock(i, latest.Hash, trans, latest.Timestamp+1), 0, noop)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to mine block %d: %s", failed, i, err)
		}
		if err := db.AppendBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to append block %d: %s", failed, i, err)
		}
	}

	return db
}

// =============================================================================

type blocksCall struct {
	start uint64
	limit int
}

// network serves requests from a source chain.
type network struct {
	source *database.Database

	mu          sync.Mutex
	blockCalls  []blocksCall
	headerCalls int
	corrupt     uint64
	fail        error
	block       chan struct{}

	// gossip receives the requested start block once before the response
	// is served, as if it had arrived from another peer first.
	gossip   *database.Database
	gossiped bool
}

func (n *network) RequestHeaders(ctx context.Context, peerID string, start uint64, end uint64) ([]database.BlockHeader, error) {
	n.mu.Lock()
	n.headerCalls++
	fail := n.fail
	n.mu.Unlock()

	if fail != nil {
		return nil, fail
	}

	return n.source.Headers(start, end), nil
}

func (n *network) RequestBlocks(ctx context.Context, peerID string, start uint64, limit int) ([]database.Block, bool, error) {
	n.mu.Lock()
	n.blockCalls = append(n.blockCalls, blocksCall{start: start, limit: limit})
	fail := n.fail
	n.mu.Unlock()

	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	if fail != nil {
		return nil, false, fail
	}

	n.mu.Lock()
	deliver := n.gossip != nil && !n.gossiped
	n.gossiped = n.gossiped || deliver
	n.mu.Unlock()

	if deliver {
		if blocks := n.source.Range(start, 1); len(blocks) == 1 {
			if err := n.gossip.AppendBlock(blocks[0]); err != nil {
				return nil, false, err
			}
		}
	}

	blocks := n.source.Range(start, limit)
	for i := range blocks {
		if n.corrupt != 0 && blocks[i].Index == n.corrupt {
			blocks[i].Timestamp++
		}
	}

	hasMore := len(blocks) > 0 && n.source.Height() > blocks[len(blocks)-1].Index

	return blocks, hasMore, nil
}

func (n *network) calls() []blocksCall {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]blocksCall(nil), n.blockCalls...)
}

func newEngine(local *database.Database, net *network) *chainsync.Engine {
	return chainsync.New(chainsync.Config{
		Ledger:         local,
		Network:        net,
		Difficulty:     0,
		RequestTimeout: time.Second,
		EvHandler:      noop,
	})
}

// =============================================================================

func Test_SmallGap(t *testing.T) {
	t.Log("Given the need to close a small gap with a taller peer.")
	{
		local := newChain(t, 3)
		net := &network{source: newChain(t, 10)}
		engine := newEngine(local, net)

		if err := engine.Sync(context.Background(), "peer", 10); err != nil {
			t.Fatalf("\t%s\tShould be able to sync: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to sync.", success)

		calls := net.calls()
		if len(calls) != 1 || calls[0].start != 4 || calls[0].limit != chainsync.DefaultBlockBatchSize {
			t.Fatalf("\t%s\tShould issue a single block request from height 4: %+v", failed, calls)
		}
		t.Logf("\t%s\tShould issue a single block request from height 4.", success)

		if h := local.Height(); h != 10 {
			t.Fatalf("\t%s\tShould reach height 10, got %d.", failed, h)
		}
		t.Logf("\t%s\tShould reach height 10.", success)

		if net.headerCalls != 0 {
			t.Fatalf("\t%s\tShould not request headers for a small gap.", failed)
		}
		t.Logf("\t%s\tShould not request headers for a small gap.", success)

		event := <-engine.Events()
		if event.Kind != chainsync.EventComplete || event.Height != 10 {
			t.Fatalf("\t%s\tShould report completion: %+v", failed, event)
		}
		t.Logf("\t%s\tShould report completion.", success)

		if engine.IsSyncing() {
			t.Fatalf("\t%s\tShould release the sync state.", failed)
		}
		t.Logf("\t%s\tShould release the sync state.", success)
	}
}

func Test_GossipDuringSync(t *testing.T) {
	t.Log("Given the need to sync while the next block also arrives by gossip.")
	{
		t.Run("blocks", func(t *testing.T) {
			local := newChain(t, 3)
			net := &network{source: newChain(t, 10)}
			net.gossip = local
			engine := newEngine(local, net)

			if err := engine.Sync(context.Background(), "peer", 10); err != nil {
				t.Fatalf("\t%s\tShould be able to sync: %s", failed, err)
			}
			t.Logf("\t%s\tShould be able to sync.", success)

			if h := local.Height(); h != 10 {
				t.Fatalf("\t%s\tShould reach height 10, got %d.", failed, h)
			}
			if local.LatestBlock().Hash != net.source.LatestBlock().Hash || !local.IsChainValid() {
				t.Fatalf("\t%s\tShould end on the peer's tip with a valid chain.", failed)
			}
			t.Logf("\t%s\tShould end on the peer's tip with a valid chain.", success)

			event := <-engine.Events()
			if event.Kind != chainsync.EventComplete {
				t.Fatalf("\t%s\tShould report completion: %+v", failed, event)
			}
			t.Logf("\t%s\tShould report completion.", success)
		})

		t.Run("headers", func(t *testing.T) {
			const height = 1200

			local := newLedger(t)
			net := &network{source: newChain(t, height)}
			net.gossip = local
			engine := newEngine(local, net)

			if err := engine.Sync(context.Background(), "peer", height); err != nil {
				t.Fatalf("\t%s\tShould be able to sync: %s", failed, err)
			}
			t.Logf("\t%s\tShould be able to sync.", success)

			if h := local.Height(); h != height {
				t.Fatalf("\t%s\tShould reach height %d, got %d.", failed, height, h)
			}
			t.Logf("\t%s\tShould reach height %d.", success, height)

			if engine.Status().PendingBlocks != 0 {
				t.Fatalf("\t%s\tShould leave no pending blocks.", failed)
			}
			t.Logf("\t%s\tShould leave no pending blocks.", success)
		})
	}
}

func Test_LargeGap(t *testing.T) {
	const height = 5000

	source := newChain(t, height)

	t.Log("Given the need to close a large gap headers first.")
	{
		t.Run("complete", func(t *testing.T) {
			local := newLedger(t)
			net := &network{source: source}
			engine := newEngine(local, net)

			if err := engine.Sync(context.Background(), "peer", height); err != nil {
				t.Fatalf("\t%s\tShould be able to sync: %s", failed, err)
			}
			t.Logf("\t%s\tShould be able to sync.", success)

			if exp := height / chainsync.DefaultHeaderBatchSize; net.headerCalls != exp {
				t.Fatalf("\t%s\tShould request headers in batches of %d, got %d calls.", failed, chainsync.DefaultHeaderBatchSize, net.headerCalls)
			}
			t.Logf("\t%s\tShould request headers in batches of %d.", success, chainsync.DefaultHeaderBatchSize)

			if h := local.Height(); h != height {
				t.Fatalf("\t%s\tShould reach height %d, got %d.", failed, height, h)
			}
			if local.LatestBlock().Hash != source.LatestBlock().Hash {
				t.Fatalf("\t%s\tShould end on the peer's tip.", failed)
			}
			t.Logf("\t%s\tShould end on the peer's tip.", success)
		})

		t.Run("corrupt", func(t *testing.T) {
			local := newLedger(t)
			net := &network{source: source, corrupt: 2500}
			engine := newEngine(local, net)

			err := engine.Sync(context.Background(), "peer", height)
			if !errors.Is(err, chainsync.ErrHeaderHashMismatch) {
				t.Fatalf("\t%s\tShould abort with a header hash mismatch: %v", failed, err)
			}
			t.Logf("\t%s\tShould abort with a header hash mismatch.", success)

			if h := local.Height(); h != 2499 {
				t.Fatalf("\t%s\tShould keep blocks 0 through 2499, got height %d.", failed, h)
			}
			if !local.IsChainValid() {
				t.Fatalf("\t%s\tShould keep a valid chain.", failed)
			}
			t.Logf("\t%s\tShould keep blocks 0 through 2499 intact.", success)

			event := <-engine.Events()
			if event.Kind != chainsync.EventFailed || !errors.Is(event.Err, chainsync.ErrHeaderHashMismatch) {
				t.Fatalf("\t%s\tShould report the failure: %+v", failed, event)
			}
			t.Logf("\t%s\tShould report the failure.", success)

			if engine.IsSyncing() || engine.Status().PendingBlocks != 0 {
				t.Fatalf("\t%s\tShould release the sync state.", failed)
			}
			t.Logf("\t%s\tShould release the sync state.", success)
		})
	}
}

func Test_Retries(t *testing.T) {
	t.Log("Given the need to give up on a peer that keeps failing.")
	{
		local := newLedger(t)
		net := &network{source: newChain(t, 5), fail: errors.New("timeout")}
		engine := newEngine(local, net)

		err := engine.Sync(context.Background(), "peer", 5)
		if !errors.Is(err, chainsync.ErrRetriesExhausted) {
			t.Fatalf("\t%s\tShould abort once retries are exhausted: %v", failed, err)
		}
		t.Logf("\t%s\tShould abort once retries are exhausted.", success)

		if n := len(net.calls()); n != chainsync.DefaultMaxRetries+1 {
			t.Fatalf("\t%s\tShould make one attempt plus %d retries, got %d.", failed, chainsync.DefaultMaxRetries, n)
		}
		t.Logf("\t%s\tShould make one attempt plus %d retries.", success, chainsync.DefaultMaxRetries)

		if local.Height() != 0 || engine.IsSyncing() {
			t.Fatalf("\t%s\tShould leave the chain and the engine untouched.", failed)
		}
		t.Logf("\t%s\tShould leave the chain and the engine untouched.", success)
	}
}

func Test_InProgress(t *testing.T) {
	t.Log("Given the need to run a single sync at a time.")
	{
		local := newLedger(t)
		net := &network{source: newChain(t, 5), block: make(chan struct{})}
		engine := newEngine(local, net)

		if !engine.Start("peer", 5) {
			t.Fatalf("\t%s\tShould be able to start a sync.", failed)
		}
		t.Logf("\t%s\tShould be able to start a sync.", success)

		if engine.Start("other", 5) {
			t.Fatalf("\t%s\tShould not start a second sync.", failed)
		}
		if err := engine.Sync(context.Background(), "other", 5); !errors.Is(err, chainsync.ErrSyncInProgress) {
			t.Fatalf("\t%s\tShould report the sync in progress: %v", failed, err)
		}
		t.Logf("\t%s\tShould not start a second sync.", success)

		if status := engine.Status(); !status.Syncing || status.SyncPeer != "peer" || status.TargetHeight != 5 {
			t.Fatalf("\t%s\tShould report the running sync: %+v", failed, status)
		}
		t.Logf("\t%s\tShould report the running sync.", success)

		close(net.block)

		select {
		case event := <-engine.Events():
			if event.Kind != chainsync.EventComplete || event.PeerID != "peer" {
				t.Fatalf("\t%s\tShould complete the first sync: %+v", failed, event)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("\t%s\tShould complete the first sync in time.", failed)
		}
		t.Logf("\t%s\tShould complete the first sync.", success)

		engine.Shutdown()
	}
}

func Test_NoPeer(t *testing.T) {
	t.Log("Given the need to report a sync with no suitable peer.")
	{
		engine := newEngine(newLedger(t), &network{})

		err := engine.Sync(context.Background(), "", 10)
		if !errors.Is(err, chainsync.ErrNoSyncPeer) || !chainsync.IsSyncError(err) {
			t.Fatalf("\t%s\tShould fail for the lack of a peer: %v", failed, err)
		}
		t.Logf("\t%s\tShould fail for the lack of a peer.", success)

		if engine.IsSyncing() {
			t.Fatalf("\t%s\tShould release the sync state.", failed)
		}
		t.Logf("\t%s\tShould release the sync state.", success)
	}
}
