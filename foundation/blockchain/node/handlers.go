package node

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/peer"
	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// handleMessage dispatches a decoded message from the peer. Until the
// handshake completes only a handshake is accepted.
func (n *Node) handleMessage(p *peer.Peer, msg wire.Message) {
	if hs, ok := msg.(wire.Handshake); ok {
		n.handleHandshake(p, hs)
		return
	}

	if !p.IsConnected() {
		n.ev("node: message: peer[%s]: %s: DROPPED: handshake not complete", p.ID, msg.MessageType())
		n.penalize(p, "message before handshake")
		return
	}

	switch msg := msg.(type) {
	case wire.GetBlocks:
		n.handleGetBlocks(p, msg)
	case wire.Blocks:
		n.handleBlocks(p, msg)
	case wire.GetHeaders:
		n.handleGetHeaders(p, msg)
	case wire.Headers:
		n.handleHeaders(p, msg)
	case wire.Block:
		n.handleBlock(p, msg)
	case wire.Transaction:
		n.handleTransaction(p, msg)
	case wire.Peers:
		n.handlePeers(p, msg)
	case wire.GetPeers:
		n.handleGetPeers(p)
	case wire.Ping:
		n.handlePing(p, msg)
	case wire.Pong:
		n.handlePong(p, msg)
	}
}

// =============================================================================

// handleHandshake completes the handshake. Connections to ourselves and a
// second connection to a node we already talk to are closed.
func (n *Node) handleHandshake(p *peer.Peer, hs wire.Handshake) {
	if p.IsConnected() {
		n.ev("node: handshake: peer[%s]: DROPPED: repeated handshake", p.ID)
		return
	}

	if hs.NodeID == n.nodeID {
		n.ev("node: handshake: peer[%s]: self connection", p.ID)
		n.disconnect(p.ID)
		return
	}

	for _, other := range n.peers.ConnectedPeers() {
		if other.NodeID == hs.NodeID {
			n.ev("node: handshake: peer[%s]: duplicate of peer[%s]", p.ID, other.ID)
			n.disconnect(p.ID)
			return
		}
	}

	if hs.Version != wire.ProtocolVersion {
		n.ev("node: handshake: peer[%s]: version[%d]: want[%d]: incompatible", p.ID, hs.Version, wire.ProtocolVersion)
		n.disconnect(p.ID)
		return
	}

	p.Version = hs.Version
	p.NodeID = hs.NodeID
	p.Height = hs.Height
	p.ListenPort = hs.ListenPort

	if p.Incoming && n.peers.IsBanned(p.Address()) {
		n.ev("node: handshake: peer[%s]: banned address[%s]", p.ID, p.Address())
		n.disconnect(p.ID)
		return
	}

	p.State = peer.StateHandshakeComplete
	p.UpdateScore(true)

	addr := peer.SharedAddress{Host: p.Host, Port: p.Port, Score: p.Score, LastSeen: p.LastSeen}
	if p.ListenPort > 0 {
		addr.Port = p.ListenPort
	}
	n.remember(addr)

	n.ev("node: handshake: peer[%s]: version[%d]: height[%d]: nodeID[%s]", p.ID, p.Version, p.Height, p.NodeID)

	n.send(p, wire.Peers{Peers: n.peers.ExportForSharing(p.ID)})

	if latest := n.db.Height(); p.Height > latest {
		n.ev("node: handshake: peer[%s]: height[%d] above local[%d]: sync", p.ID, p.Height, latest)
		n.sync.Start(p.ID, p.Height)
	}
}

// handleGetBlocks answers with up to the requested number of blocks.
func (n *Node) handleGetBlocks(p *peer.Peer, msg wire.GetBlocks) {
	limit := msg.Limit
	if limit <= 0 || limit > wire.MaxBlocksPerResponse {
		limit = wire.MaxBlocksPerResponse
	}

	blocks := n.db.Range(msg.StartHeight, limit)

	var hasMore bool
	if len(blocks) > 0 {
		hasMore = n.db.Height() > blocks[len(blocks)-1].Index
	}

	n.send(p, wire.Blocks{Blocks: blocks, HasMore: hasMore})
}

// handleBlocks delivers a response to the waiting request. Blocks nobody
// asked for are appended while they extend the chain.
func (n *Node) handleBlocks(p *peer.Peer, msg wire.Blocks) {
	if n.deliver(p.ID, wire.TypeBlocks, msg) {
		p.UpdateScore(true)
		return
	}

	for _, block := range msg.Blocks {
		if block.Index <= n.db.Height() {
			continue
		}
		if err := n.appendBlock(block, p.ID); err != nil {
			n.rejected(p, err)
			return
		}
	}
}

// handleGetHeaders answers with the headers of the requested range.
func (n *Node) handleGetHeaders(p *peer.Peer, msg wire.GetHeaders) {
	end := msg.EndHeight
	if end-msg.StartHeight >= wire.MaxHeadersPerResponse {
		end = msg.StartHeight + wire.MaxHeadersPerResponse - 1
	}

	n.send(p, wire.Headers{Headers: n.db.Headers(msg.StartHeight, end)})
}

// handleHeaders delivers a response to the waiting request.
func (n *Node) handleHeaders(p *peer.Peer, msg wire.Headers) {
	if n.deliver(p.ID, wire.TypeHeaders, msg) {
		p.UpdateScore(true)
		return
	}

	n.ev("node: headers: peer[%s]: DROPPED: unsolicited", p.ID)
}

// handleBlock processes an announced block. The next block is appended and
// relayed. A block further ahead means the peer is taller and a sync is
// started.
func (n *Node) handleBlock(p *peer.Peer, msg wire.Block) {
	block := msg.Block
	p.Height = max(p.Height, block.Index)

	latest := n.db.Height()

	switch {
	case block.Index <= latest:
		return

	case block.Index == latest+1:
		if err := n.appendBlock(block, p.ID); err != nil {
			n.rejected(p, err)
			return
		}
		p.UpdateScore(true)

	default:
		n.ev("node: block: peer[%s]: blk[%d] ahead of local[%d]: sync", p.ID, block.Index, latest)
		n.sync.Start(p.ID, p.Height)
	}
}

// handleTransaction admits an announced transaction to the pool and relays
// it.
func (n *Node) handleTransaction(p *peer.Peer, msg wire.Transaction) {
	tx := msg.Transaction
	if n.mempool.Exists(tx.Hash()) {
		return
	}

	if err := n.admitTransaction(tx, p.ID); err != nil {
		n.ev("node: transaction: peer[%s]: REJECTED: %s", p.ID, err)

		switch {
		case errors.Is(err, database.ErrInvalidSignature),
			errors.Is(err, database.ErrMalformedTransaction),
			errors.Is(err, database.ErrInvalidCoinbase):
			n.penalize(p, "invalid transaction")
		}
		return
	}

	p.UpdateScore(true)
}

// handlePeers records shared addresses and dials new ones while there is
// room for more peers.
func (n *Node) handlePeers(p *peer.Peer, msg wire.Peers) {
	for _, addr := range msg.Peers {
		id := addr.ID()
		if n.isSelf(addr.Host, addr.Port) || n.peers.IsBanned(id) {
			continue
		}

		if _, exists := n.known[id]; !exists {
			n.remember(addr)
		}

		if n.peers.NeedsMorePeers(n.dialing.Cardinality()) {
			n.dial(addr.Host, addr.Port)
		}
	}
}

// handleGetPeers answers with the addresses of reliable peers.
func (n *Node) handleGetPeers(p *peer.Peer) {
	n.send(p, wire.Peers{Peers: n.peers.ExportForSharing(p.ID)})
}

// handlePing answers with the same nonce.
func (n *Node) handlePing(p *peer.Peer, msg wire.Ping) {
	n.send(p, wire.Pong{Timestamp: time.Now().UnixMilli(), Nonce: msg.Nonce})
}

// handlePong records the round trip of the last ping.
func (n *Node) handlePong(p *peer.Peer, msg wire.Pong) {
	if p.PingNonce == "" || msg.Nonce != p.PingNonce {
		return
	}

	p.PingTime = n.peers.Now().Sub(p.LastPing)
	p.PingNonce = ""
	p.UpdateScore(true)
}

// =============================================================================

// appendBlock commits the block and relays it to everyone but the origin.
// Must be called by the loop.
func (n *Node) appendBlock(block database.Block, origin string) error {
	if err := n.commitBlock(block); err != nil {
		return err
	}

	n.broadcast(wire.Block{Block: block, Timestamp: time.Now().UnixMilli()}, origin)

	return nil
}

// commitBlock adds the block to the chain, drops its transactions from the
// pool and cancels mining of a height the block now occupies. Blocks from a
// sync are committed without being relayed. Must be called by the loop.
func (n *Node) commitBlock(block database.Block) error {
	if err := n.db.AppendBlock(block); err != nil {
		return err
	}

	n.mempool.DeleteIncluded(block)

	if n.mining != nil && n.mining.index <= block.Index {
		n.ev("node: commitBlock: blk[%d]: cancel mining", block.Index)
		n.worker.SignalCancelMining()
	}

	return nil
}

// admitTransaction checks the transaction against the confirmed balance less
// what the sender already has pending, adds it to the pool and relays it.
// Must be called by the loop.
func (n *Node) admitTransaction(tx database.Transaction, origin string) error {
	if n.mempool.Exists(tx.Hash()) {
		return ErrAlreadyPending
	}

	if err := n.db.ValidateSpend(tx, n.mempool.PendingSpend(tx.From())); err != nil {
		return err
	}

	n.mempool.Upsert(tx)
	n.broadcast(wire.Transaction{Transaction: tx, Timestamp: time.Now().UnixMilli()}, origin)

	return nil
}

// rejected penalizes a peer for a block that failed validation.
func (n *Node) rejected(p *peer.Peer, err error) {
	n.ev("node: block: peer[%s]: REJECTED: %s", p.ID, err)

	if database.IsValidationError(err) {
		n.penalize(p, "invalid block")
	}
}

// pingPeers pings every connected peer.
func (n *Node) pingPeers() {
	now := n.peers.Now()
	for _, p := range n.peers.ConnectedPeers() {
		p.LastPing = now
		p.PingNonce = uuid.NewString()
		n.send(p, wire.Ping{Timestamp: now.UnixMilli(), Nonce: p.PingNonce})
	}
}
