// Package peer maintains the peer related information such as the set of
// connected peers, their statistics and their reliability.
package peer

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Scoring bounds and steps.
const (
	MaxScore     = 100
	scoreReward  = 1
	scorePenalty = 5

	reliableScore  = 50
	reliableErrors = 10
)

// State represents where a peer is in its connection lifecycle.
type State int

// Set of peer states.
const (
	StateConnecting State = iota
	StateConnected
	StateHandshakeComplete
	StateDisconnected
	StateBanned
)

var stateNames = map[State]string{
	StateConnecting:        "connecting",
	StateConnected:         "connected",
	StateHandshakeComplete: "handshake_complete",
	StateDisconnected:      "disconnected",
	StateBanned:            "banned",
}

// String implements the fmt.Stringer interface.
func (s State) String() string {
	if name, exists := stateNames[s]; exists {
		return name
	}
	return "unknown"
}

// =============================================================================

// Peer represents a network session with another node.
type Peer struct {
	ID       string
	Host     string
	Port     int
	Incoming bool
	State    State

	// Negotiated during the handshake.
	Version    int
	NodeID     string
	Height     uint64
	ListenPort int

	ConnectedAt      time.Time
	LastSeen         time.Time
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64

	LastPing  time.Time
	PingNonce string
	PingTime  time.Duration

	Score               int
	Errors              int
	SuccessfulResponses int
}

// New constructs a peer for a connection to host:port.
func New(host string, port int, incoming bool, now time.Time) *Peer {
	return &Peer{
		ID:          ID(host, port),
		Host:        host,
		Port:        port,
		Incoming:    incoming,
		State:       StateConnecting,
		ConnectedAt: now,
		LastSeen:    now,
		Score:       MaxScore,
	}
}

// ID forms the identity of a peer.
func ID(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Address returns the address other nodes can dial to reach the peer. For
// an inbound connection this is the advertised listen port, not the
// ephemeral port the connection came from.
func (p *Peer) Address() string {
	if p.ListenPort > 0 {
		return ID(p.Host, p.ListenPort)
	}
	return p.ID
}

// UpdateStats records traffic on the connection.
func (p *Peer) UpdateStats(sent bool, bytes int, now time.Time) {
	p.LastSeen = now

	switch sent {
	case true:
		p.BytesSent += uint64(bytes)
		p.MessagesSent++
	default:
		p.BytesReceived += uint64(bytes)
		p.MessagesReceived++
	}
}

// UpdateScore adjusts the reliability score. Success adds one point, a
// failure takes five. The score stays within [0, MaxScore].
func (p *Peer) UpdateScore(success bool) {
	if success {
		p.SuccessfulResponses++
		p.Score = min(MaxScore, p.Score+scoreReward)
		return
	}

	p.Errors++
	p.Score = max(0, p.Score-scorePenalty)
}

// IsStale reports whether nothing was heard from the peer within timeout.
func (p *Peer) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastSeen) > timeout
}

// IsConnected reports whether the handshake has completed.
func (p *Peer) IsConnected() bool {
	return p.State == StateHandshakeComplete
}

// IsReliable reports whether the peer may be used for broadcast and sync.
func (p *Peer) IsReliable() bool {
	return p.Score > reliableScore && p.Errors < reliableErrors
}

// String implements the fmt.Stringer interface for logging.
func (p *Peer) String() string {
	return fmt.Sprintf("%s[%s:%d]", p.ID, p.State, p.Score)
}

// =============================================================================

// Info is the reporting view of a peer.
type Info struct {
	ID                  string        `json:"id"`
	Host                string        `json:"host"`
	Port                int           `json:"port"`
	Incoming            bool          `json:"incoming"`
	State               string        `json:"state"`
	Version             int           `json:"version"`
	NodeID              string        `json:"nodeId"`
	Height              uint64        `json:"height"`
	ConnectedAt         time.Time     `json:"connectedAt"`
	LastSeen            time.Time     `json:"lastSeen"`
	ConnectionTime      time.Duration `json:"connectionTime"`
	PingTime            time.Duration `json:"pingTime"`
	BytesSent           uint64        `json:"bytesSent"`
	BytesReceived       uint64        `json:"bytesReceived"`
	MessagesSent        uint64        `json:"messagesSent"`
	MessagesReceived    uint64        `json:"messagesReceived"`
	Score               int           `json:"score"`
	Errors              int           `json:"errors"`
	SuccessfulResponses int           `json:"successfulResponses"`
	IsReliable          bool          `json:"isReliable"`
	IsStale             bool          `json:"isStale"`
}

// Info returns the reporting view of the peer.
func (p *Peer) Info(now time.Time, staleTimeout time.Duration) Info {
	return Info{
		ID:                  p.ID,
		Host:                p.Host,
		Port:                p.Port,
		Incoming:            p.Incoming,
		State:               p.State.String(),
		Version:             p.Version,
		NodeID:              p.NodeID,
		Height:              p.Height,
		ConnectedAt:         p.ConnectedAt,
		LastSeen:            p.LastSeen,
		ConnectionTime:      now.Sub(p.ConnectedAt),
		PingTime:            p.PingTime,
		BytesSent:           p.BytesSent,
		BytesReceived:       p.BytesReceived,
		MessagesSent:        p.MessagesSent,
		MessagesReceived:    p.MessagesReceived,
		Score:               p.Score,
		Errors:              p.Errors,
		SuccessfulResponses: p.SuccessfulResponses,
		IsReliable:          p.IsReliable(),
		IsStale:             p.IsStale(now, staleTimeout),
	}
}
