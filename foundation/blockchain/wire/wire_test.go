package wire_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/peer"
	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func encode(t *testing.T, msg wire.Message) []byte {
	t.Helper()

	data, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to encode %s: %s", failed, msg.MessageType(), err)
	}
	return data
}

func Test_Codec(t *testing.T) {
	block := database.NewBlock(1, strings.Repeat("0", 64), []database.Transaction{
		database.NewCoinbase("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4", database.Coins(50), 7),
	}, 7)

	tt := []struct {
		name string
		msg  wire.Message
	}{
		{name: "handshake", msg: wire.Handshake{Version: wire.ProtocolVersion, Height: 12, NodeID: "abc", Timestamp: 99, ListenPort: 8333}},
		{name: "getblocks", msg: wire.GetBlocks{StartHeight: 4, Limit: 500}},
		{name: "blocks", msg: wire.Blocks{Blocks: []database.Block{block}, HasMore: true}},
		{name: "getheaders", msg: wire.GetHeaders{StartHeight: 1, EndHeight: 100}},
		{name: "headers", msg: wire.Headers{Headers: []database.BlockHeader{block.Header()}}},
		{name: "block", msg: wire.Block{Block: block, Timestamp: 5}},
		{name: "peers", msg: wire.Peers{Peers: []peer.SharedAddress{{Host: "10.0.0.1", Port: 8333, Score: 90}}}},
		{name: "getpeers", msg: wire.GetPeers{}},
		{name: "ping", msg: wire.Ping{Timestamp: 1, Nonce: "ab12"}},
		{name: "pong", msg: wire.Pong{Timestamp: 2, Nonce: "ab12"}},
	}

	t.Log("Given the need to encode and decode every message type.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				data := encode(t, tst.msg)

				if !bytes.HasSuffix(data, []byte("\n")) || bytes.Count(data, []byte("\n")) != 1 {
					t.Fatalf("\t%s\tTest %d:\tShould produce a single line record: %q", failed, testID, data)
				}
				t.Logf("\t%s\tTest %d:\tShould produce a single line record.", success, testID)

				msg, err := wire.Decode(bytes.TrimSpace(data))
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to decode the record: %s", failed, testID, err)
				}

				if msg.MessageType() != tst.msg.MessageType() {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, msg.MessageType())
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.msg.MessageType())
					t.Fatalf("\t%s\tTest %d:\tShould get back the same type.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back the same type.", success, testID)

				if again := encode(t, msg); !bytes.Equal(again, data) {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, again)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, data)
					t.Fatalf("\t%s\tTest %d:\tShould encode the decoded message identically.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould encode the decoded message identically.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_DecodeErrors(t *testing.T) {
	tt := []struct {
		name   string
		record string
		err    error
	}{
		{name: "garbage", record: `{"type":`, err: wire.ErrMalformedMessage},
		{name: "notype", record: `{"height":1}`, err: wire.ErrMalformedMessage},
		{name: "unknown", record: `{"type":"inv"}`, err: wire.ErrUnknownMessageType},
		{name: "required", record: `{"type":"handshake","version":1,"height":3}`, err: wire.ErrMalformedMessage},
		{name: "limit", record: `{"type":"getblocks","startHeight":1,"limit":501}`, err: wire.ErrMalformedMessage},
		{name: "range", record: `{"type":"getheaders","startHeight":9,"endHeight":3}`, err: wire.ErrMalformedMessage},
		{name: "wrongtype", record: `{"type":"getblocks","startHeight":"one"}`, err: wire.ErrMalformedMessage},
	}

	t.Log("Given the need to reject bad records.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				_, err := wire.Decode([]byte(tst.record))
				if !errors.Is(err, tst.err) {
					t.Logf("\t%s\tTest %d:\tgot: %v", failed, testID, err)
					t.Logf("\t%s\tTest %d:\texp: %v", failed, testID, tst.err)
					t.Fatalf("\t%s\tTest %d:\tShould get back the right protocol error.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back the right protocol error.", success, testID)

				if !wire.IsProtocolError(err) {
					t.Fatalf("\t%s\tTest %d:\tShould classify the error as a protocol error.", failed, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Framing(t *testing.T) {
	first := encode(t, wire.GetBlocks{StartHeight: 4, Limit: 500})
	second := encode(t, wire.Ping{Timestamp: 10, Nonce: "feed"})
	stream := append(append([]byte{}, first...), second...)

	check := func(t *testing.T, records [][]byte) {
		t.Helper()

		if len(records) != 2 {
			t.Fatalf("\t%s\tShould get back exactly two records, got %d.", failed, len(records))
		}

		m1, err := wire.Decode(records[0])
		if err != nil || m1.(wire.GetBlocks).StartHeight != 4 {
			t.Fatalf("\t%s\tShould decode the first message first: %v", failed, err)
		}

		m2, err := wire.Decode(records[1])
		if err != nil || m2.(wire.Ping).Nonce != "feed" {
			t.Fatalf("\t%s\tShould decode the second message second: %v", failed, err)
		}
	}

	t.Log("Given the need to frame records over a byte stream.")
	{
		t.Run("coalesced", func(t *testing.T) {
			f := wire.NewFramer()

			records, err := f.Feed(stream)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to feed the stream: %s", failed, err)
			}
			check(t, records)

			if f.Buffered() != 0 {
				t.Fatalf("\t%s\tShould have nothing left buffered.", failed)
			}
			t.Logf("\t%s\tShould decode two records delivered in one chunk.", success)
		})

		t.Run("split", func(t *testing.T) {
			for offset := 1; offset < len(stream); offset++ {
				f := wire.NewFramer()

				var records [][]byte
				for _, chunk := range [][]byte{stream[:offset], stream[offset:]} {
					got, err := f.Feed(chunk)
					if err != nil {
						t.Fatalf("\t%s\tShould be able to feed offset %d: %s", failed, offset, err)
					}
					records = append(records, got...)
				}

				check(t, records)
			}
			t.Logf("\t%s\tShould decode two records split at every byte offset.", success)
		})

		t.Run("blank", func(t *testing.T) {
			f := wire.NewFramer()

			records, err := f.Feed([]byte("\n\r\n" + string(first) + "\n"))
			if err != nil || len(records) != 1 {
				t.Fatalf("\t%s\tShould skip blank lines: %v %d", failed, err, len(records))
			}
			t.Logf("\t%s\tShould skip blank lines.", success)
		})

		t.Run("toolarge", func(t *testing.T) {
			f := wire.NewFramer()

			chunk := bytes.Repeat([]byte("a"), 1<<20)
			var err error
			for i := 0; i <= wire.MaxRecordSize/len(chunk) && err == nil; i++ {
				_, err = f.Feed(chunk)
			}

			if !errors.Is(err, wire.ErrRecordTooLarge) {
				t.Fatalf("\t%s\tShould reject a record past the size limit: %v", failed, err)
			}
			t.Logf("\t%s\tShould reject a record past the size limit.", success)
		})

		t.Run("chunked", func(t *testing.T) {
			const size = 16 << 20
			const chunkSize = 512

			f := wire.NewFramer()
			chunk := bytes.Repeat([]byte("b"), chunkSize)

			start := time.Now()
			for i := 0; i < size/chunkSize; i++ {
				records, err := f.Feed(chunk)
				if err != nil || len(records) != 0 {
					t.Fatalf("\t%s\tShould hold a partial record: %v %d", failed, err, len(records))
				}
			}

			records, err := f.Feed(append([]byte("c\n"), second...))
			if err != nil || len(records) != 2 {
				t.Fatalf("\t%s\tShould complete the record on its newline: %v %d", failed, err, len(records))
			}
			if len(records[0]) != size+1 || records[0][size] != 'c' {
				t.Fatalf("\t%s\tShould keep every byte of the record, got %d.", failed, len(records[0]))
			}
			if _, err := wire.Decode(records[1]); err != nil {
				t.Fatalf("\t%s\tShould frame the record that follows: %s", failed, err)
			}
			t.Logf("\t%s\tShould assemble a record from many small chunks.", success)

			if elapsed := time.Since(start); elapsed > 10*time.Second {
				t.Fatalf("\t%s\tShould scan each buffered byte once, took %s.", failed, elapsed)
			}
			t.Logf("\t%s\tShould scan each buffered byte once.", success)

			if f.Buffered() != 0 {
				t.Fatalf("\t%s\tShould have nothing left buffered.", failed)
			}
		})
	}
}
