package node

import (
	"context"
	"fmt"

	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// requestKey identifies an outstanding request by the peer it went to and
// the type of the response expected.
type requestKey struct {
	peerID   string
	response wire.Type
}

// request is an outstanding request waiting for its response.
type request struct {
	reply chan reply
}

// reply carries the response or the reason there won't be one.
type reply struct {
	msg wire.Message
	err error
}

// register sends the message and records the request. A request for the
// same key that is still waiting is failed. Must be called by the loop.
func (n *Node) register(peerID string, msg wire.Message, response wire.Type) (*request, error) {
	p, exists := n.peers.Peer(peerID)
	if !exists || !p.IsConnected() {
		return nil, &ConnectionError{PeerID: peerID, Op: "request", Err: fmt.Errorf("peer not connected")}
	}

	key := requestKey{peerID: peerID, response: response}
	if old, exists := n.requests[key]; exists {
		old.reply <- reply{err: fmt.Errorf("superseded by a new %s request", response)}
	}

	req := request{reply: make(chan reply, 1)}
	n.requests[key] = &req

	if !n.send(p, msg) {
		delete(n.requests, key)
		return nil, &ConnectionError{PeerID: peerID, Op: "request", Err: fmt.Errorf("unable to send %s", msg.MessageType())}
	}

	return &req, nil
}

// deliver hands the response to the waiting request. It reports false when
// nobody is waiting for it. Must be called by the loop.
func (n *Node) deliver(peerID string, response wire.Type, msg wire.Message) bool {
	key := requestKey{peerID: peerID, response: response}

	req, exists := n.requests[key]
	if !exists {
		return false
	}

	delete(n.requests, key)
	req.reply <- reply{msg: msg}

	return true
}

// forget drops the request if it is still the one recorded for the key.
// Must be called by the loop.
func (n *Node) forget(peerID string, response wire.Type, req *request) {
	key := requestKey{peerID: peerID, response: response}
	if n.requests[key] == req {
		delete(n.requests, key)
	}
}

// failRequests fails every request waiting on the peer. Must be called by
// the loop.
func (n *Node) failRequests(peerID string, err error) {
	for key, req := range n.requests {
		if key.peerID == peerID {
			delete(n.requests, key)
			req.reply <- reply{err: err}
		}
	}
}

// roundTrip sends the request through the loop and waits for the response
// or the context.
func (n *Node) roundTrip(ctx context.Context, peerID string, msg wire.Message, response wire.Type) (wire.Message, error) {
	var req *request
	var err error
	if derr := n.do(ctx, func() { req, err = n.register(peerID, msg, response) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	select {
	case rep := <-req.reply:
		return rep.msg, rep.err

	case <-ctx.Done():
		n.do(context.Background(), func() { n.forget(peerID, response, req) })
		return nil, ctx.Err()

	case <-n.shut:
		return nil, ErrShutdown
	}
}

// =============================================================================

// ledger lets the sync engine read the chain directly and append through
// the loop.
type ledger struct {
	node *Node
}

// LatestBlock implements the chainsync.Ledger interface.
func (l ledger) LatestBlock() database.Block {
	return l.node.db.LatestBlock()
}

// AppendBlock implements the chainsync.Ledger interface.
func (l ledger) AppendBlock(block database.Block) error {
	var err error
	if derr := l.node.do(context.Background(), func() { err = l.node.commitBlock(block) }); derr != nil {
		return derr
	}
	return err
}

// network lets the sync engine issue requests to peers through the loop.
type network struct {
	node *Node
}

// RequestHeaders implements the chainsync.Network interface.
func (nw network) RequestHeaders(ctx context.Context, peerID string, start uint64, end uint64) ([]database.BlockHeader, error) {
	msg, err := nw.node.roundTrip(ctx, peerID, wire.GetHeaders{StartHeight: start, EndHeight: end}, wire.TypeHeaders)
	if err != nil {
		return nil, err
	}

	return msg.(wire.Headers).Headers, nil
}

// RequestBlocks implements the chainsync.Network interface.
func (nw network) RequestBlocks(ctx context.Context, peerID string, start uint64, limit int) ([]database.Block, bool, error) {
	msg, err := nw.node.roundTrip(ctx, peerID, wire.GetBlocks{StartHeight: start, Limit: limit}, wire.TypeBlocks)
	if err != nil {
		return nil, false, err
	}

	blocks := msg.(wire.Blocks)
	return blocks.Blocks, blocks.HasMore, nil
}
