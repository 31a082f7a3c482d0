package worker_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/worker"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func template(index uint64) database.Block {
	tx := database.NewCoinbase("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4", database.Coins(50), 1)
	return database.NewBlock(index, strings.Repeat("0", 64), []database.Transaction{tx}, 1)
}

func Test_Mining(t *testing.T) {
	t.Log("Given the need to mine on a dedicated worker.")
	{
		w := worker.Run(nil)
		defer w.Shutdown()

		if !w.SignalStartMining(worker.Job{ID: 1, Block: template(1), Difficulty: 2}) {
			t.Fatalf("\t%s\tShould be able to queue a job.", failed)
		}
		t.Logf("\t%s\tShould be able to queue a job.", success)

		select {
		case res := <-w.Results():
			if res.Err != nil {
				t.Fatalf("\t%s\tShould mine the block: %s", failed, res.Err)
			}
			if res.JobID != 1 || !database.IsHashSolved(2, res.Block.Hash) {
				t.Fatalf("\t%s\tShould get back a solved block for the job.", failed)
			}
			t.Logf("\t%s\tShould get back a solved block for the job.", success)

		case <-time.After(30 * time.Second):
			t.Fatalf("\t%s\tShould get back a result in time.", failed)
		}
	}
}

func Test_MiningCancel(t *testing.T) {
	t.Log("Given the need to cancel mining.")
	{
		w := worker.Run(nil)
		defer w.Shutdown()

		w.SignalStartMining(worker.Job{ID: 7, Block: template(1), Difficulty: 64})

		// A cancel sent before the worker picks the job up is drained, so
		// keep signalling until the result arrives.
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(30 * time.Second)

		for {
			select {
			case <-ticker.C:
				w.SignalCancelMining()

			case res := <-w.Results():
				if !errors.Is(res.Err, context.Canceled) {
					t.Fatalf("\t%s\tShould get back a cancellation: %v", failed, res.Err)
				}
				if res.JobID != 7 {
					t.Fatalf("\t%s\tShould report the cancelled job, got %d.", failed, res.JobID)
				}
				t.Logf("\t%s\tShould get back a cancellation.", success)
				return

			case <-deadline:
				t.Fatalf("\t%s\tShould get back a result in time.", failed)
			}
		}
	}
}
