package node

import (
	"context"

	"github.com/mathcoin/node/foundation/blockchain/chainsync"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/genesis"
	"github.com/mathcoin/node/foundation/blockchain/peer"
	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// Status is the reporting view of the node.
type Status struct {
	NodeID       string           `json:"nodeId"`
	Network      string           `json:"network"`
	ListenAddr   string           `json:"listenAddr"`
	Version      int              `json:"version"`
	Height       uint64           `json:"height"`
	LatestHash   string           `json:"latestHash"`
	Difficulty   int              `json:"difficulty"`
	MiningReward database.Amount  `json:"miningReward"`
	MintedSupply int64            `json:"mintedSupply"`
	Pending      int              `json:"pending"`
	Mining       bool             `json:"mining"`
	Peers        peer.Stats       `json:"peers"`
	Sync         chainsync.Status `json:"sync"`
}

// Balance is the reporting view of an address.
type Balance struct {
	Address      database.Address `json:"address"`
	Confirmed    int64            `json:"confirmed"`
	PendingSpend database.Amount  `json:"pendingSpend"`
	Available    int64            `json:"available"`
}

// Status returns the state of the chain, the peers and sync.
func (n *Node) Status(ctx context.Context) (Status, error) {
	latest := n.db.LatestBlock()
	gen := n.db.Genesis()

	status := Status{
		NodeID:       n.nodeID,
		Network:      gen.Network,
		ListenAddr:   n.ListenAddr(),
		Version:      wire.ProtocolVersion,
		Height:       latest.Index,
		LatestHash:   latest.Hash,
		Difficulty:   gen.Difficulty,
		MiningReward: database.Amount(gen.MiningReward),
		MintedSupply: n.db.MintedSupply(),
		Pending:      n.mempool.Count(),
		Sync:         n.sync.Status(),
	}

	err := n.do(ctx, func() {
		status.Mining = n.mining != nil
		status.Peers = n.peers.Stats()
	})

	return status, err
}

// Peers returns the reporting view of every active peer.
func (n *Node) Peers(ctx context.Context) ([]peer.Info, error) {
	var infos []peer.Info
	err := n.do(ctx, func() {
		now := n.peers.Now()
		for _, p := range n.peers.Peers() {
			infos = append(infos, p.Info(now, n.peers.StaleTimeout()))
		}
	})

	return infos, err
}

// Balance returns the confirmed balance of the address along with what it
// has pending in the pool.
func (n *Node) Balance(ctx context.Context, address database.Address) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	confirmed := n.db.BalanceOf(address)
	pending := n.mempool.PendingSpend(address)

	return Balance{
		Address:      address,
		Confirmed:    confirmed,
		PendingSpend: pending,
		Available:    confirmed - int64(pending),
	}, nil
}

// Blocks returns the blocks from one height to another inclusive, bounded
// by the latest block and by the response limit of the protocol.
func (n *Node) Blocks(from uint64, to uint64) []database.Block {
	if to < from {
		return nil
	}

	limit := uint64(wire.MaxBlocksPerResponse)
	if to-from < limit {
		limit = to - from + 1
	}
	return n.db.Range(from, int(limit))
}

// Pending returns the transactions waiting in the pool.
func (n *Node) Pending() []database.Transaction {
	return n.mempool.Copy()
}

// Genesis returns the genesis settings of the chain.
func (n *Node) Genesis() genesis.Genesis {
	return n.db.Genesis()
}

// SubmitTransaction validates the signed transaction against the sender's
// confirmed balance less its pending spend, adds it to the pool and
// broadcasts it.
func (n *Node) SubmitTransaction(ctx context.Context, tx database.Transaction) error {
	var err error
	if derr := n.do(ctx, func() { err = n.admitTransaction(tx, "") }); derr != nil {
		return derr
	}
	return err
}

// SyncStatus returns the state of the sync engine.
func (n *Node) SyncStatus() chainsync.Status {
	return n.sync.Status()
}

// KnownAddresses returns the addresses remembered for discovery, best score
// first.
func (n *Node) KnownAddresses(ctx context.Context) ([]peer.SharedAddress, error) {
	var addrs []peer.SharedAddress
	err := n.do(ctx, func() {
		addrs = n.knownAddresses()
	})

	return addrs, err
}

// Connect dials the address unless a connection to it exists or is being
// made.
func (n *Node) Connect(ctx context.Context, hostPort string) error {
	addr, err := parseAddress(hostPort)
	if err != nil {
		return err
	}

	return n.do(ctx, func() {
		n.remember(addr)
		n.dial(addr.Host, addr.Port)
	})
}
