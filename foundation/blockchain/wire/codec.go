package wire

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/mathcoin/node/foundation/validate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Set of protocol errors. A record failing with one of these is dropped and
// the connection is kept.
var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// IsProtocolError reports whether the error came from decoding a record.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnknownMessageType)
}

// Encode produces the record for the message, newline included.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.MessageType(), err)
	}

	if len(payload) < 2 || payload[0] != '{' {
		return nil, fmt.Errorf("encoding %s: payload is not an object", msg.MessageType())
	}

	var b bytes.Buffer
	b.Grow(len(payload) + 32)
	b.WriteString(`{"type":"`)
	b.WriteString(string(msg.MessageType()))
	b.WriteByte('"')
	if len(payload) > 2 {
		b.WriteByte(',')
	}
	b.Write(payload[1:])
	b.WriteByte('\n')

	return b.Bytes(), nil
}

// Decode parses a single record, without its newline, into the message
// its type names and validates the required fields.
func Decode(record []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(record, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeHandshake:
		return decode[Handshake](record)
	case TypeGetBlocks:
		return decode[GetBlocks](record)
	case TypeBlocks:
		return decode[Blocks](record)
	case TypeGetHeaders:
		return decode[GetHeaders](record)
	case TypeHeaders:
		return decode[Headers](record)
	case TypeBlock:
		return decode[Block](record)
	case TypeTransaction:
		return decode[Transaction](record)
	case TypePeers:
		return decode[Peers](record)
	case TypeGetPeers:
		return decode[GetPeers](record)
	case TypePing:
		return decode[Ping](record)
	case TypePong:
		return decode[Pong](record)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
}

func decode[T Message](record []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(record, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedMessage, msg.MessageType(), err)
	}

	if err := validate.Check(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedMessage, msg.MessageType(), err)
	}

	return msg, nil
}
