// Package chainsync reconciles the local chain with a taller peer. Large
// gaps are closed headers first, small gaps by requesting blocks directly.
package chainsync

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mathcoin/node/foundation/blockchain/database"
)

// Default settings.
const (
	DefaultHeadersFirstThreshold = 1000
	DefaultHeaderBatchSize       = 100
	DefaultBlockBatchSize        = 500
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxRetries            = 3
)

// Strategy names the path a sync attempt takes.
type Strategy string

// Set of strategies.
const (
	StrategyDirect       Strategy = "direct"
	StrategyHeadersFirst Strategy = "headers-first"
)

// Ledger is the chain the engine reads from and appends to.
type Ledger interface {
	LatestBlock() database.Block
	AppendBlock(block database.Block) error
}

// Network issues requests to a peer and waits for the response. The
// context carries the per-request timeout.
type Network interface {
	RequestHeaders(ctx context.Context, peerID string, start uint64, end uint64) ([]database.BlockHeader, error)
	RequestBlocks(ctx context.Context, peerID string, start uint64, limit int) ([]database.Block, bool, error)
}

// Config represents the dependencies and settings of the engine.
type Config struct {
	Ledger                Ledger
	Network               Network
	Difficulty            int
	HeadersFirstThreshold uint64
	HeaderBatchSize       int
	BlockBatchSize        int
	RequestTimeout        time.Duration
	MaxRetries            int
	EvHandler             func(v string, args ...any)
}

// =============================================================================

// EventKind identifies the outcome of a sync attempt.
type EventKind string

// Set of event kinds.
const (
	EventComplete EventKind = "syncComplete"
	EventFailed   EventKind = "syncFailed"
)

// Event reports the outcome of a sync attempt.
type Event struct {
	Kind     EventKind
	PeerID   string
	Height   uint64
	Duration time.Duration
	Err      error
}

// Status is a snapshot of the engine's state.
type Status struct {
	Syncing       bool      `json:"syncing"`
	SyncPeer      string    `json:"syncPeer"`
	Strategy      Strategy  `json:"strategy,omitempty"`
	CurrentHeight uint64    `json:"currentHeight"`
	TargetHeight  uint64    `json:"targetHeight"`
	HeaderHeight  uint64    `json:"headerHeight"`
	PendingBlocks int       `json:"pendingBlocks"`
	Progress      float64   `json:"progress"`
	StartedAt     time.Time `json:"startedAt,omitempty"`
}

// state is guarded by the engine's mutex. syncing acts as the lock that
// keeps a single sync in flight.
type state struct {
	syncing       bool
	syncPeer      string
	strategy      Strategy
	startHeight   uint64
	currentHeight uint64
	targetHeight  uint64
	headerHeight  uint64
	headers       map[uint64]database.BlockHeader
	pendingBlocks mapset.Set[uint64]
	startedAt     time.Time
}

// Engine drives sync attempts. At most one attempt runs at a time.
type Engine struct {
	cfg    Config
	mu     sync.Mutex
	state  state
	events chan Event

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an engine, filling in defaults for zero settings.
func New(cfg Config) *Engine {
	if cfg.HeadersFirstThreshold == 0 {
		cfg.HeadersFirstThreshold = DefaultHeadersFirstThreshold
	}
	if cfg.HeaderBatchSize <= 0 {
		cfg.HeaderBatchSize = DefaultHeaderBatchSize
	}
	if cfg.BlockBatchSize <= 0 {
		cfg.BlockBatchSize = DefaultBlockBatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:    cfg,
		events: make(chan Event, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events returns the channel sync outcomes are reported on.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Shutdown aborts a running sync and waits for it to finish.
func (e *Engine) Shutdown() {
	e.cfg.EvHandler("chainsync: shutdown: started")
	defer e.cfg.EvHandler("chainsync: shutdown: completed")

	e.cancel()
	e.wg.Wait()
}

// Status returns a snapshot of the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state
	status := Status{
		Syncing:       s.syncing,
		SyncPeer:      s.syncPeer,
		Strategy:      s.strategy,
		CurrentHeight: s.currentHeight,
		TargetHeight:  s.targetHeight,
		HeaderHeight:  s.headerHeight,
		StartedAt:     s.startedAt,
	}

	if s.pendingBlocks != nil {
		status.PendingBlocks = s.pendingBlocks.Cardinality()
	}

	if s.syncing && s.targetHeight > s.startHeight {
		status.Progress = float64(s.currentHeight-s.startHeight) / float64(s.targetHeight-s.startHeight)
	}

	return status
}

// IsSyncing reports whether a sync attempt is running.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.syncing
}

// Start runs a sync against the peer on its own goroutine. It returns false
// when a sync is already in flight. An empty peer id reports a failure for
// the lack of a suitable peer.
func (e *Engine) Start(peerID string, height uint64) bool {
	if !e.acquire(peerID, height) {
		e.cfg.EvHandler("chainsync: Start: sync already in progress: peer[%s]", peerID)
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(e.ctx, peerID, height)
	}()

	return true
}

// Sync runs a sync against the peer and returns when it is over.
func (e *Engine) Sync(ctx context.Context, peerID string, height uint64) error {
	if !e.acquire(peerID, height) {
		e.cfg.EvHandler("chainsync: Sync: sync already in progress: peer[%s]", peerID)
		return ErrSyncInProgress
	}

	e.wg.Add(1)
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	return e.run(ctx, peerID, height)
}

// =============================================================================

// acquire marks a sync in flight. It fails if one already is.
func (e *Engine) acquire(peerID string, height uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.syncing {
		return false
	}

	e.state = state{
		syncing:       true,
		syncPeer:      peerID,
		targetHeight:  height,
		headers:       make(map[uint64]database.BlockHeader),
		pendingBlocks: mapset.NewThreadUnsafeSet[uint64](),
		startedAt:     time.Now(),
	}

	return true
}

// release clears the sync state regardless of how the attempt ended.
func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.syncing = false
	e.state.syncPeer = ""
	e.state.headers = nil
	e.state.pendingBlocks = nil
}

// run performs the attempt and reports its outcome.
func (e *Engine) run(ctx context.Context, peerID string, target uint64) (err error) {
	ev := e.cfg.EvHandler
	start := time.Now()

	defer func() {
		e.release()

		event := Event{
			Kind:     EventComplete,
			PeerID:   peerID,
			Height:   e.cfg.Ledger.LatestBlock().Index,
			Duration: time.Since(start),
			Err:      err,
		}
		if err != nil {
			event.Kind = EventFailed
			ev("chainsync: run: FAILED: peer[%s]: %s", peerID, err)
		} else {
			ev("chainsync: run: COMPLETE: peer[%s]: height[%d]: duration[%v]", peerID, event.Height, event.Duration)
		}

		e.emit(event)
	}()

	if peerID == "" {
		return &Error{Kind: ErrNoSyncPeer}
	}

	current := e.cfg.Ledger.LatestBlock().Index

	strategy := StrategyDirect
	if target > current && target-current > e.cfg.HeadersFirstThreshold {
		strategy = StrategyHeadersFirst
	}

	e.mu.Lock()
	e.state.strategy = strategy
	e.state.startHeight = current
	e.state.currentHeight = current
	e.mu.Unlock()

	ev("chainsync: run: started: peer[%s]: strategy[%s]: current[%d]: target[%d]", peerID, strategy, current, target)

	if target <= current {
		return nil
	}

	if strategy == StrategyHeadersFirst {
		return e.syncHeaders(ctx, peerID, target)
	}

	return e.syncBlocks(ctx, peerID, target)
}

// emit hands the event to the consumer without blocking.
func (e *Engine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		e.cfg.EvHandler("chainsync: emit: event dropped: %s", event.Kind)
	}
}

// setCurrent records progress.
func (e *Engine) setCurrent(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.currentHeight = height
}
