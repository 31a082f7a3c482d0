// Package worker implements the mining worker for the blockchain. Proof of
// work runs on its own goroutine and results are handed back over a channel
// so the caller's event loop is never blocked by the search.
package worker

import (
	"sync"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

// EventHandler defines a function that is called when events occur in the
// processing of mining.
type EventHandler func(v string, args ...any)

// Job describes a block template to mine.
type Job struct {
	ID         uint64
	Block      database.Block
	Difficulty int
}

// Result is handed back for every job the worker picks up. Err is set when
// mining was cancelled or failed.
type Result struct {
	JobID    uint64
	Block    database.Block
	Duration time.Duration
	Err      error
}

// =============================================================================

// Worker manages the POW workflow for the blockchain.
type Worker struct {
	wg           sync.WaitGroup
	shut         chan struct{}
	startMining  chan Job
	cancelMining chan bool
	results      chan Result
	evHandler    EventHandler
}

// Run creates a worker and starts up the mining goroutine.
func Run(evHandler EventHandler) *Worker {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	w := Worker{
		shut:         make(chan struct{}),
		startMining:  make(chan Job, 1),
		cancelMining: make(chan bool, 1),
		results:      make(chan Result, 1),
		evHandler:    evHandler,
	}

	// Load the set of operations we need to run.
	operations := []func(){
		w.miningOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: signal cancel mining")
	w.SignalCancelMining()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// Results returns the channel mining results are delivered on.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// SignalStartMining queues a mining job. If a job is already waiting to be
// picked up, the new job is refused and false is returned.
func (w *Worker) SignalStartMining(job Job) bool {
	select {
	case w.startMining <- job:
		w.evHandler("worker: SignalStartMining: mining signaled: job[%d]", job.ID)
		return true
	default:
		w.evHandler("worker: SignalStartMining: job already pending: job[%d]", job.ID)
		return false
	}
}

// SignalCancelMining signals the G executing the runMiningOperation function
// to stop immediately.
func (w *Worker) SignalCancelMining() {
	select {
	case w.cancelMining <- true:
	default:
	}
	w.evHandler("worker: SignalCancelMining: MINING: CANCEL: signaled")
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
