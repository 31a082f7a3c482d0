package node

import (
	"net"
	"strconv"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/chainsync"
	"github.com/mathcoin/node/foundation/blockchain/peer"
	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// event is anything a connection posts to the loop.
type event interface {
	isEvent()
}

// evConnOpened reports a new connection. Outbound connections carry the
// dialed address.
type evConnOpened struct {
	netConn  net.Conn
	incoming bool
	id       string
	host     string
	port     int
}

// evConnClosed reports the connection is gone.
type evConnClosed struct {
	conn *conn
	err  error
}

// evDialFailed reports a dial that never produced a connection.
type evDialFailed struct {
	id  string
	err error
}

// evMessage carries a decoded record.
type evMessage struct {
	conn *conn
	msg  wire.Message
	size int
}

// evMalformed carries a record that failed to decode.
type evMalformed struct {
	conn *conn
	err  error
	size int
}

// evHandshakeDeadline fires when a connection's handshake time is up.
type evHandshakeDeadline struct {
	conn *conn
}

func (evConnOpened) isEvent()        {}
func (evConnClosed) isEvent()        {}
func (evDialFailed) isEvent()        {}
func (evMessage) isEvent()           {}
func (evMalformed) isEvent()         {}
func (evHandshakeDeadline) isEvent() {}

// =============================================================================

// loop is the single goroutine that owns the node's state.
func (n *Node) loop() {
	n.ev("node: loop: G started")
	defer n.ev("node: loop: G completed")

	ping := time.NewTicker(n.cfg.PingInterval)
	defer ping.Stop()

	discovery := time.NewTicker(n.cfg.DiscoveryInterval)
	defer discovery.Stop()

	persist := time.NewTicker(n.cfg.PersistInterval)
	defer persist.Stop()

	cleanup := time.NewTicker(n.cfg.CleanupInterval)
	defer cleanup.Stop()

	syncCheck := time.NewTicker(n.cfg.SyncInterval)
	defer syncCheck.Stop()

	for {
		select {
		case e := <-n.inbox:
			n.handleEvent(e)

		case cmd := <-n.commands:
			cmd()

		case result := <-n.worker.Results():
			n.miningResult(result)

		case se := <-n.sync.Events():
			n.syncResult(se)

		case <-ping.C:
			n.pingPeers()

		case <-discovery.C:
			n.discoverPeers()

		case <-persist.C:
			n.persistPeers()

		case <-cleanup.C:
			n.cleanupPeers()

		case <-syncCheck.C:
			n.checkSync()

		case <-n.shut:
			n.ev("node: loop: received shut signal")
			n.persistPeers()
			n.closeAll()
			return
		}
	}
}

// handleEvent dispatches an event from a connection.
func (n *Node) handleEvent(e event) {
	switch e := e.(type) {
	case evConnOpened:
		n.connOpened(e)

	case evConnClosed:
		n.connClosed(e.conn, e.err)

	case evDialFailed:
		n.dialing.Remove(e.id)
		delete(n.known, e.id)
		n.ev("node: dial: peer[%s]: ERROR: %s", e.id, e.err)

	case evMalformed:
		p, exists := n.peerFor(e.conn)
		if !exists {
			return
		}
		p.UpdateStats(false, e.size, n.peers.Now())
		n.ev("node: message: peer[%s]: DROPPED: %s", p.ID, e.err)
		n.penalize(p, "malformed message")

	case evMessage:
		p, exists := n.peerFor(e.conn)
		if !exists {
			return
		}
		p.UpdateStats(false, e.size, n.peers.Now())
		n.handleMessage(p, e.msg)

	case evHandshakeDeadline:
		p, exists := n.peerFor(e.conn)
		if !exists || p.IsConnected() {
			return
		}
		n.ev("node: handshake: peer[%s]: DEADLINE: state[%s]", p.ID, p.State)
		n.disconnect(p.ID)
	}
}

// peerFor returns the peer behind the connection, if the connection is
// still the current one for that identity.
func (n *Node) peerFor(c *conn) (*peer.Peer, bool) {
	if n.conns[c.id] != c {
		return nil, false
	}
	return n.peers.Peer(c.id)
}

// =============================================================================

// connOpened admits the peer and opens the handshake.
func (n *Node) connOpened(e evConnOpened) {
	if n.isShutdown() {
		e.netConn.Close()
		return
	}

	id, host, port := e.id, e.host, e.port
	if e.incoming {
		h, p, err := net.SplitHostPort(e.netConn.RemoteAddr().String())
		if err != nil {
			e.netConn.Close()
			return
		}
		host = h
		port, _ = strconv.Atoi(p)
		id = peer.ID(host, port)
	} else {
		n.dialing.Remove(id)
	}

	if n.conns[id] != nil {
		n.ev("node: connOpened: peer[%s]: duplicate connection", id)
		e.netConn.Close()
		return
	}

	p := peer.New(host, port, e.incoming, n.peers.Now())
	p.State = peer.StateConnected

	evicted, err := n.peers.AddPeer(p)
	if err != nil {
		n.ev("node: connOpened: peer[%s]: REJECTED: %s", id, err)
		e.netConn.Close()
		return
	}

	if evicted != nil {
		n.ev("node: connOpened: peer[%s]: EVICTED for peer[%s]", evicted.ID, id)
		n.disconnect(evicted.ID)
	}

	c := newConn(id, e.netConn, e.incoming)
	n.conns[id] = c

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		c.readLoop(n)
	}()
	go func() {
		defer n.wg.Done()
		c.writeLoop(n.cfg.WriteTimeout)
	}()

	time.AfterFunc(n.peers.HandshakeTimeout(), func() {
		n.post(evHandshakeDeadline{conn: c})
	})

	n.ev("node: connOpened: peer[%s]: incoming[%t]", id, e.incoming)

	n.send(p, wire.Handshake{
		Version:    wire.ProtocolVersion,
		Height:     n.db.Height(),
		NodeID:     n.nodeID,
		Timestamp:  time.Now().UnixMilli(),
		ListenPort: n.listenPort,
	})
}

// connClosed drops the peer. There is no reconnect attempt.
func (n *Node) connClosed(c *conn, err error) {
	if n.conns[c.id] != c {
		return
	}

	delete(n.conns, c.id)
	n.peers.RemovePeer(c.id)
	n.failRequests(c.id, err)

	n.ev("node: connClosed: peer[%s]: %s", c.id, err)
}

// disconnect closes the connection and removes the peer.
func (n *Node) disconnect(id string) {
	if c, exists := n.conns[id]; exists {
		delete(n.conns, id)
		c.close()
	}

	n.peers.RemovePeer(id)
	n.failRequests(id, &ConnectionError{PeerID: id, Op: "disconnect", Err: ErrShutdown})
}

// closeAll closes every connection.
func (n *Node) closeAll() {
	for id := range n.conns {
		n.disconnect(id)
	}
}

// send encodes and queues the message for the peer.
func (n *Node) send(p *peer.Peer, msg wire.Message) bool {
	c, exists := n.conns[p.ID]
	if !exists {
		return false
	}

	record, err := wire.Encode(msg)
	if err != nil {
		n.ev("node: send: peer[%s]: %s: ERROR: %s", p.ID, msg.MessageType(), err)
		return false
	}

	if !c.send(record) {
		n.ev("node: send: peer[%s]: %s: DROPPED: send queue full", p.ID, msg.MessageType())
		return false
	}

	p.UpdateStats(true, len(record), n.peers.Now())

	return true
}

// broadcast sends the message to the peers selected for broadcast, leaving
// out the origin.
func (n *Node) broadcast(msg wire.Message, origin string) int {
	var sent int
	for _, p := range n.peers.SelectPeersForBroadcast(origin) {
		if n.send(p, msg) {
			sent++
		}
	}

	n.ev("node: broadcast: %s: peers[%d]", msg.MessageType(), sent)

	return sent
}

// penalize lowers the peer's score and bans it when the score runs out.
func (n *Node) penalize(p *peer.Peer, reason string) {
	p.UpdateScore(false)

	if p.Score > 0 {
		return
	}

	n.ev("node: penalize: peer[%s]: BANNED: %s", p.ID, reason)
	c := n.conns[p.ID]
	n.peers.BanPeer(p.ID, reason)
	if c != nil {
		delete(n.conns, p.ID)
		c.close()
	}
	n.failRequests(p.ID, &ConnectionError{PeerID: p.ID, Op: "ban", Err: peer.ErrBanned})
}

// syncResult reacts to the outcome of a sync attempt.
func (n *Node) syncResult(se chainsync.Event) {
	switch se.Kind {
	case chainsync.EventComplete:
		n.ev("node: sync: COMPLETE: peer[%s]: height[%d]: duration[%v]", se.PeerID, se.Height, se.Duration)
		if p, exists := n.peers.Peer(se.PeerID); exists {
			p.UpdateScore(true)
		}

	case chainsync.EventFailed:
		n.ev("node: sync: FAILED: peer[%s]: height[%d]: %s", se.PeerID, se.Height, se.Err)
		if p, exists := n.peers.Peer(se.PeerID); exists {
			n.penalize(p, "sync failed")
		}
	}
}
