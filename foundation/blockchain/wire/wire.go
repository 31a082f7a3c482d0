// Package wire implements the node-to-node protocol: newline terminated JSON
// records, each carrying a type discriminator.
package wire

import (
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/peer"
)

// ProtocolVersion is the version advertised in the handshake.
const ProtocolVersion = 1

// Limits on requests and responses.
const (
	MaxBlocksPerResponse  = 500
	MaxHeadersPerResponse = 100
	MaxSharedPeers        = 10
)

// Type is the discriminator carried by every record.
type Type string

// Set of message types.
const (
	TypeHandshake   Type = "handshake"
	TypeGetBlocks   Type = "getblocks"
	TypeBlocks      Type = "blocks"
	TypeGetHeaders  Type = "getheaders"
	TypeHeaders     Type = "headers"
	TypeBlock       Type = "block"
	TypeTransaction Type = "transaction"
	TypePeers       Type = "peers"
	TypeGetPeers    Type = "getpeers"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
)

// Message is implemented by every record that can be sent over the wire.
type Message interface {
	MessageType() Type
}

// envelope is decoded first to learn the type of a record.
type envelope struct {
	Type Type `json:"type"`
}

// =============================================================================

// Handshake opens every connection. ListenPort tells the remote side which
// port to share with others when the connection is inbound.
type Handshake struct {
	Version    int    `json:"version" validate:"required,min=1"`
	Height     uint64 `json:"height"`
	NodeID     string `json:"nodeId" validate:"required"`
	Timestamp  int64  `json:"timestamp" validate:"required"`
	ListenPort int    `json:"listenPort,omitempty" validate:"omitempty,min=1,max=65535"`
}

// MessageType implements the Message interface.
func (Handshake) MessageType() Type { return TypeHandshake }

// GetBlocks asks for blocks starting at a height. A zero limit means the
// maximum.
type GetBlocks struct {
	StartHeight uint64 `json:"startHeight"`
	Limit       int    `json:"limit,omitempty" validate:"min=0,max=500"`
}

// MessageType implements the Message interface.
func (GetBlocks) MessageType() Type { return TypeGetBlocks }

// Blocks answers GetBlocks. HasMore reports the responder holds blocks past
// the last one returned.
type Blocks struct {
	Blocks  []database.Block `json:"blocks" validate:"max=500"`
	HasMore bool             `json:"hasMore"`
}

// MessageType implements the Message interface.
func (Blocks) MessageType() Type { return TypeBlocks }

// GetHeaders asks for the headers from StartHeight to EndHeight inclusive.
type GetHeaders struct {
	StartHeight uint64 `json:"startHeight"`
	EndHeight   uint64 `json:"endHeight" validate:"gtefield=StartHeight"`
}

// MessageType implements the Message interface.
func (GetHeaders) MessageType() Type { return TypeGetHeaders }

// Headers answers GetHeaders.
type Headers struct {
	Headers []database.BlockHeader `json:"headers" validate:"max=100"`
}

// MessageType implements the Message interface.
func (Headers) MessageType() Type { return TypeHeaders }

// Block announces a newly mined block.
type Block struct {
	Block     database.Block `json:"block"`
	Timestamp int64          `json:"timestamp"`
}

// MessageType implements the Message interface.
func (Block) MessageType() Type { return TypeBlock }

// Transaction announces a new pending transaction.
type Transaction struct {
	Transaction database.Transaction `json:"transaction"`
	Timestamp   int64                `json:"timestamp"`
}

// MessageType implements the Message interface.
func (Transaction) MessageType() Type { return TypeTransaction }

// Peers shares known peer addresses for discovery.
type Peers struct {
	Peers []peer.SharedAddress `json:"peers" validate:"max=10,dive"`
}

// MessageType implements the Message interface.
func (Peers) MessageType() Type { return TypePeers }

// GetPeers asks for a Peers message.
type GetPeers struct{}

// MessageType implements the Message interface.
func (GetPeers) MessageType() Type { return TypeGetPeers }

// Ping checks the connection is alive.
type Ping struct {
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// MessageType implements the Message interface.
func (Ping) MessageType() Type { return TypePing }

// Pong answers Ping, echoing its nonce.
type Pong struct {
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// MessageType implements the Message interface.
func (Pong) MessageType() Type { return TypePong }
