package peer

import (
	"errors"
	"sort"
	"time"
)

// Set of admission failures.
var (
	ErrCapacity  = errors.New("peer capacity reached")
	ErrBanned    = errors.New("peer is banned")
	ErrDuplicate = errors.New("peer already exists")
)

// Default policy values.
const (
	DefaultMaxPeers         = 8
	DefaultStaleTimeout     = 5 * time.Minute
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultBanDuration      = 24 * time.Hour

	maxBroadcastPeers = 8
	maxSharedPeers    = 10
)

// Config represents the policy of a Manager.
type Config struct {
	MaxPeers         int
	StaleTimeout     time.Duration
	HandshakeTimeout time.Duration
	BanDuration      time.Duration
	Now              func() time.Time
}

// SharedAddress is a peer address exchanged for discovery.
type SharedAddress struct {
	Host     string    `json:"host" validate:"required"`
	Port     int       `json:"port" validate:"required,min=1,max=65535"`
	Score    int       `json:"score"`
	LastSeen time.Time `json:"lastSeen"`
}

// ID returns the identity the address would have as a peer.
func (sa SharedAddress) ID() string {
	return ID(sa.Host, sa.Port)
}

// Stats summarizes the peer set for reporting.
type Stats struct {
	TotalPeers        int           `json:"totalPeers"`
	ConnectedPeers    int           `json:"connectedPeers"`
	ReliablePeers     int           `json:"reliablePeers"`
	BannedPeers       int           `json:"bannedPeers"`
	MaxPeers          int           `json:"maxPeers"`
	NetworkHeight     uint64        `json:"networkHeight"`
	TotalDataTransfer uint64        `json:"totalDataTransfer"`
	AveragePing       time.Duration `json:"averagePing"`
	Peers             []Info        `json:"peers"`
}

// =============================================================================

// Manager owns the bounded set of active peers and the banned identities.
// It is not safe for concurrent use. A single goroutine owns it.
type Manager struct {
	cfg    Config
	peers  map[string]*Peer
	banned map[string]time.Time
}

// NewManager constructs a Manager, filling in defaults for zero values.
func NewManager(cfg Config) *Manager {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = DefaultBanDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:    cfg,
		peers:  make(map[string]*Peer),
		banned: make(map[string]time.Time),
	}
}

// Now returns the current time of the manager's clock.
func (m *Manager) Now() time.Time {
	return m.cfg.Now()
}

// MaxPeers returns the capacity of the active set.
func (m *Manager) MaxPeers() int {
	return m.cfg.MaxPeers
}

// StaleTimeout returns the configured stale timeout.
func (m *Manager) StaleTimeout() time.Duration {
	return m.cfg.StaleTimeout
}

// AddPeer admits the peer. When at capacity a peer still waiting on its
// handshake is evicted first. Otherwise the peer must outscore the worst
// connected peer. The evicted peer is returned so the caller can close its
// connection.
func (m *Manager) AddPeer(p *Peer) (*Peer, error) {
	if m.IsBanned(p.ID) {
		return nil, ErrBanned
	}

	if _, exists := m.peers[p.ID]; exists {
		return nil, ErrDuplicate
	}

	var evicted *Peer
	if len(m.peers) >= m.cfg.MaxPeers {
		worst := m.WorstPeer()
		switch {
		case worst == nil:
			return nil, ErrCapacity
		case worst.IsConnected() && p.Score <= worst.Score:
			return nil, ErrCapacity
		}
		evicted = m.RemovePeer(worst.ID)
	}

	m.peers[p.ID] = p

	return evicted, nil
}

// RemovePeer drops the peer from the active set and returns it.
func (m *Manager) RemovePeer(id string) *Peer {
	p, exists := m.peers[id]
	if !exists {
		return nil
	}

	delete(m.peers, id)
	if p.State != StateBanned {
		p.State = StateDisconnected
	}

	return p
}

// BanPeer bans the identity and removes the peer. The advertised address
// of the peer is banned with it. The ban expires after the ban duration.
func (m *Manager) BanPeer(id string, reason string) *Peer {
	now := m.cfg.Now()
	m.banned[id] = now

	p, exists := m.peers[id]
	if !exists {
		return nil
	}

	p.State = StateBanned
	m.banned[p.Address()] = now

	return m.RemovePeer(id)
}

// IsBanned reports whether the identity is banned. Expired bans are
// dropped as they are found.
func (m *Manager) IsBanned(id string) bool {
	bannedAt, exists := m.banned[id]
	if !exists {
		return false
	}

	if m.cfg.Now().Sub(bannedAt) < m.cfg.BanDuration {
		return true
	}

	delete(m.banned, id)
	return false
}

// PurgeExpiredBans drops every expired ban and returns how many were lifted.
func (m *Manager) PurgeExpiredBans() int {
	var n int
	for id := range m.banned {
		if !m.IsBanned(id) {
			n++
		}
	}
	return n
}

// =============================================================================

// Peer returns the peer with the specified identity.
func (m *Manager) Peer(id string) (*Peer, bool) {
	p, exists := m.peers[id]
	return p, exists
}

// Count returns the number of active peers.
func (m *Manager) Count() int {
	return len(m.peers)
}

// Peers returns the active peers ordered by identity.
func (m *Manager) Peers() []*Peer {
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID < peers[j].ID
	})

	return peers
}

// ConnectedPeers returns the peers that completed the handshake.
func (m *Manager) ConnectedPeers() []*Peer {
	var peers []*Peer
	for _, p := range m.Peers() {
		if p.IsConnected() {
			peers = append(peers, p)
		}
	}
	return peers
}

// ReliablePeers returns the connected peers that are reliable.
func (m *Manager) ReliablePeers() []*Peer {
	var peers []*Peer
	for _, p := range m.ConnectedPeers() {
		if p.IsReliable() {
			peers = append(peers, p)
		}
	}
	return peers
}

// BestPeers returns up to count connected peers ordered by score.
func (m *Manager) BestPeers(count int) []*Peer {
	peers := m.ConnectedPeers()
	sort.SliceStable(peers, func(i, j int) bool {
		return peers[i].Score > peers[j].Score
	})

	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

// WorstPeer returns the peer to evict first: the longest waiting peer that
// has not completed its handshake, otherwise the connected peer with the
// lowest score. It returns nil for an empty set.
func (m *Manager) WorstPeer() *Peer {
	var pending *Peer
	for _, p := range m.Peers() {
		if p.IsConnected() {
			continue
		}
		if pending == nil || p.ConnectedAt.Before(pending.ConnectedAt) {
			pending = p
		}
	}
	if pending != nil {
		return pending
	}

	var worst *Peer
	for _, p := range m.ConnectedPeers() {
		if worst == nil || p.Score < worst.Score {
			worst = p
		}
	}
	return worst
}

// NeedsMorePeers reports whether there is room for another peer once the
// specified number of dials in flight have connected.
func (m *Manager) NeedsMorePeers(dialing int) bool {
	return len(m.peers)+dialing < m.cfg.MaxPeers
}

// IsStale reports whether the peer has been silent past the stale timeout.
func (m *Manager) IsStale(p *Peer) bool {
	return p.IsStale(m.cfg.Now(), m.cfg.StaleTimeout)
}

// HandshakeExpired reports whether the peer has not completed its handshake
// within the handshake timeout.
func (m *Manager) HandshakeExpired(p *Peer) bool {
	return !p.IsConnected() && m.cfg.Now().Sub(p.ConnectedAt) > m.cfg.HandshakeTimeout
}

// HandshakeTimeout returns the configured handshake timeout.
func (m *Manager) HandshakeTimeout() time.Duration {
	return m.cfg.HandshakeTimeout
}

// CleanupStalePeers removes every stale peer and every peer whose handshake
// expired, and returns them.
func (m *Manager) CleanupStalePeers() []*Peer {
	var removed []*Peer
	for _, p := range m.Peers() {
		if m.IsStale(p) || m.HandshakeExpired(p) {
			removed = append(removed, m.RemovePeer(p.ID))
		}
	}
	return removed
}

// SelectPeersForBroadcast returns up to eight reliable peers excluding the
// specified identity.
func (m *Manager) SelectPeersForBroadcast(exclude string) []*Peer {
	limit := min(maxBroadcastPeers, len(m.peers))

	var peers []*Peer
	for _, p := range m.ReliablePeers() {
		if len(peers) == limit {
			break
		}
		if p.ID != exclude {
			peers = append(peers, p)
		}
	}
	return peers
}

// SelectPeerForSync returns the reliable peer advertising the greatest
// height, or nil when no reliable peer has a height above zero.
func (m *Manager) SelectPeerForSync() *Peer {
	var best *Peer
	for _, p := range m.ReliablePeers() {
		if p.Height == 0 {
			continue
		}
		if best == nil || p.Height > best.Height {
			best = p
		}
	}
	return best
}

// NetworkHeight returns the most common height among connected peers. Ties
// go to the greater height. It is a plurality estimate only.
func (m *Manager) NetworkHeight() uint64 {
	counts := make(map[uint64]int)
	for _, p := range m.ConnectedPeers() {
		counts[p.Height]++
	}

	var height uint64
	var best int
	for h, n := range counts {
		if n > best || (n == best && h > height) {
			height, best = h, n
		}
	}

	return height
}

// ExportForSharing returns up to ten reliable peer addresses for discovery,
// leaving out the specified identity.
func (m *Manager) ExportForSharing(exclude string) []SharedAddress {
	var addrs []SharedAddress
	for _, p := range m.ReliablePeers() {
		if len(addrs) == maxSharedPeers {
			break
		}
		if p.ID == exclude {
			continue
		}

		port := p.Port
		if p.ListenPort > 0 {
			port = p.ListenPort
		}

		addrs = append(addrs, SharedAddress{
			Host:     p.Host,
			Port:     port,
			Score:    p.Score,
			LastSeen: p.LastSeen,
		})
	}
	return addrs
}

// Stats summarizes the peer set.
func (m *Manager) Stats() Stats {
	now := m.cfg.Now()
	peers := m.Peers()
	connected := m.ConnectedPeers()

	var total uint64
	infos := make([]Info, len(peers))
	for i, p := range peers {
		total += p.BytesSent + p.BytesReceived
		infos[i] = p.Info(now, m.cfg.StaleTimeout)
	}

	var pinged int
	var ping time.Duration
	for _, p := range connected {
		if p.PingTime > 0 {
			ping += p.PingTime
			pinged++
		}
	}
	if pinged > 0 {
		ping /= time.Duration(pinged)
	}

	return Stats{
		TotalPeers:        len(peers),
		ConnectedPeers:    len(connected),
		ReliablePeers:     len(m.ReliablePeers()),
		BannedPeers:       len(m.banned),
		MaxPeers:          m.cfg.MaxPeers,
		NetworkHeight:     m.NetworkHeight(),
		TotalDataTransfer: total,
		AveragePing:       ping,
		Peers:             infos,
	}
}
