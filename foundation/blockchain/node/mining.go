package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/worker"
)

// miningJob tracks the block the worker is mining for a caller of Mine.
type miningJob struct {
	id      uint64
	index   uint64
	started time.Time
	reply   chan mineReply
}

// mineReply carries the mined block or the reason there is none.
type mineReply struct {
	block database.Block
	err   error
}

// Mine assembles the pending transactions and a coinbase paying the mining
// reward to the address into the next block and mines it on the worker. The
// mined block is appended and broadcast. Mining is cancelled when a block
// for the same height arrives first or the context is done.
func (n *Node) Mine(ctx context.Context, reward database.Address) (database.Block, error) {
	if !reward.IsAddress() {
		return database.Block{}, fmt.Errorf("reward address %q is not properly formatted", reward)
	}

	var job *miningJob
	var err error
	if derr := n.do(ctx, func() { job, err = n.startMining(reward) }); derr != nil {
		return database.Block{}, derr
	}
	if err != nil {
		return database.Block{}, err
	}

	select {
	case rep := <-job.reply:
		return rep.block, rep.err

	case <-ctx.Done():
		n.do(context.Background(), func() {
			if n.mining == job {
				n.worker.SignalCancelMining()
			}
		})
		return database.Block{}, ctx.Err()

	case <-n.shut:
		return database.Block{}, ErrShutdown
	}
}

// startMining hands the next block to the worker. Must be called by the
// loop.
func (n *Node) startMining(reward database.Address) (*miningJob, error) {
	if n.mining != nil {
		return nil, ErrMiningInProgress
	}

	gen := n.db.Genesis()
	latest := n.db.LatestBlock()
	now := time.Now()

	trans := n.mempool.PickBest(n.cfg.MaxBlockTransactions - 1)
	trans = append(trans, database.NewCoinbase(reward, database.Amount(gen.MiningReward), now.UnixMilli()))

	block := database.NewBlock(latest.Index+1, latest.Hash, trans, now.UnixMilli())

	n.jobID++
	job := miningJob{
		id:      n.jobID,
		index:   block.Index,
		started: now,
		reply:   make(chan mineReply, 1),
	}

	if !n.worker.SignalStartMining(worker.Job{ID: job.id, Block: block, Difficulty: gen.Difficulty}) {
		return nil, ErrMiningInProgress
	}

	n.mining = &job
	n.ev("node: startMining: job[%d]: blk[%d]: trans[%d]: difficulty[%d]", job.id, block.Index, len(trans), gen.Difficulty)

	return &job, nil
}

// miningResult appends a mined block and answers the caller of Mine. Must
// be called by the loop.
func (n *Node) miningResult(result worker.Result) {
	job := n.mining
	if job == nil || job.id != result.JobID {
		n.ev("node: miningResult: job[%d]: DROPPED: no caller", result.JobID)
		return
	}
	n.mining = nil

	if result.Err != nil {
		err := result.Err
		if errors.Is(err, context.Canceled) {
			err = ErrMiningCancelled
		}
		n.ev("node: miningResult: job[%d]: blk[%d]: ERROR: %s", job.id, job.index, err)
		job.reply <- mineReply{err: err}
		return
	}

	if err := n.appendBlock(result.Block, ""); err != nil {
		n.ev("node: miningResult: job[%d]: blk[%d]: REJECTED: %s", job.id, job.index, err)
		job.reply <- mineReply{err: fmt.Errorf("%w: %w", ErrMiningCancelled, err)}
		return
	}

	n.ev("node: miningResult: job[%d]: blk[%d]: MINED: hash[%s]: duration[%v]", job.id, result.Block.Index, result.Block.Hash, result.Duration)
	job.reply <- mineReply{block: result.Block}
}
