package node

import (
	"sort"

	"github.com/mathcoin/node/foundation/blockchain/peer"
	"github.com/mathcoin/node/foundation/blockchain/peer/book"
	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// discoverPeers asks connected peers for their peers and dials addresses
// from the address book while there is room.
func (n *Node) discoverPeers() {
	for _, p := range n.peers.ConnectedPeers() {
		n.send(p, wire.GetPeers{})
	}

	room := n.peers.MaxPeers() - n.peers.Count() - n.dialing.Cardinality()
	if room <= 0 {
		return
	}

	for _, addr := range n.knownAddresses() {
		if room == 0 {
			break
		}

		id := addr.ID()
		if n.conns[id] != nil || n.dialing.Contains(id) || n.peers.IsBanned(id) {
			continue
		}

		n.dial(addr.Host, addr.Port)
		room--
	}
}

// persistPeers writes the best known addresses to the address book.
func (n *Node) persistPeers() {
	if n.book == nil {
		return
	}

	for _, addr := range n.peers.ExportForSharing("") {
		n.remember(addr)
	}

	addrs := n.knownAddresses()
	if len(addrs) > book.MaxAddresses {
		addrs = addrs[:book.MaxAddresses]
	}

	if err := n.book.Save(addrs); err != nil {
		n.ev("node: persistPeers: ERROR: %s", err)
		return
	}

	n.ev("node: persistPeers: saved[%d]", len(addrs))
}

// cleanupPeers drops stale peers and lifts expired bans.
func (n *Node) cleanupPeers() {
	for _, p := range n.peers.CleanupStalePeers() {
		n.ev("node: cleanupPeers: peer[%s]: stale", p.ID)
		if c, exists := n.conns[p.ID]; exists {
			delete(n.conns, p.ID)
			c.close()
		}
		n.failRequests(p.ID, &ConnectionError{PeerID: p.ID, Op: "stale", Err: ErrShutdown})
	}

	if lifted := n.peers.PurgeExpiredBans(); lifted > 0 {
		n.ev("node: cleanupPeers: bans lifted[%d]", lifted)
	}
}

// checkSync starts a sync with the tallest reliable peer when it is above
// the local chain and no sync is running.
func (n *Node) checkSync() {
	if n.sync.IsSyncing() {
		return
	}

	best := n.peers.SelectPeerForSync()
	if best == nil {
		return
	}

	if latest := n.db.Height(); best.Height > latest {
		n.ev("node: checkSync: peer[%s]: height[%d] above local[%d]", best.ID, best.Height, latest)
		n.sync.Start(best.ID, best.Height)
	}
}

// MaxKnownAddresses bounds the addresses the node remembers for discovery.
const MaxKnownAddresses = 256

// remember records the address. At capacity the address with the lowest
// score makes room, the oldest first among equal scores. Must be called by
// the loop.
func (n *Node) remember(addr peer.SharedAddress) {
	id := addr.ID()
	if _, exists := n.known[id]; !exists && len(n.known) >= MaxKnownAddresses {
		var worstID string
		var worst peer.SharedAddress
		for kid, k := range n.known {
			switch {
			case worstID == "",
				k.Score < worst.Score,
				k.Score == worst.Score && k.LastSeen.Before(worst.LastSeen):
				worstID, worst = kid, k
			}
		}
		delete(n.known, worstID)
	}

	n.known[id] = addr
}

// knownAddresses returns the known addresses, best score first.
func (n *Node) knownAddresses() []peer.SharedAddress {
	addrs := make([]peer.SharedAddress, 0, len(n.known))
	for _, addr := range n.known {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Score != addrs[j].Score {
			return addrs[i].Score > addrs[j].Score
		}
		return addrs[i].ID() < addrs[j].ID()
	})

	return addrs
}
