package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/database"
)

// ErrShutdown is reported for a job abandoned because the worker is
// shutting down.
var ErrShutdown = errors.New("worker is shutting down")

// miningOperations handles mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case job := <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation(job)
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation performs the proof of work for the job and hands the
// result back on the results channel.
func (w *Worker) runMiningOperation(job Job) {
	w.evHandler("worker: runMiningOperation: MINING: started: job[%d]", job.ID)
	defer w.evHandler("worker: runMiningOperation: MINING: completed: job[%d]", job.ID)

	// Drain the cancel mining channel before starting.
	select {
	case <-w.cancelMining:
		w.evHandler("worker: runMiningOperation: MINING: drained cancel channel")
	default:
	}

	// Create a context so mining can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	var result Result

	// This G exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-w.shut:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: shutdown")
		case <-ctx.Done():
		}
	}()

	// This G is performing the mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		t := time.Now()
		block, err := database.POW(ctx, job.Block, job.Difficulty, w.evHandler)
		duration := time.Since(t)

		w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

		if err != nil && ctx.Err() != nil {
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
		}

		result = Result{
			JobID:    job.ID,
			Block:    block,
			Duration: duration,
			Err:      err,
		}
	}()

	// Wait for both G's to terminate.
	wg.Wait()

	// Hand the result back. The receiver may be gone on shutdown.
	select {
	case w.results <- result:
	case <-w.shut:
		w.evHandler("worker: runMiningOperation: MINING: result dropped: %s", ErrShutdown)
	}
}
