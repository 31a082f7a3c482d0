package node

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mathcoin/node/foundation/blockchain/wire"
)

// Connection settings.
const (
	readBufferSize = 64 << 10
	sendQueueSize  = 128
)

// conn owns a network connection. A reader goroutine turns the byte stream
// into events for the node's loop and a writer goroutine drains the send
// queue. Nothing else touches the socket.
type conn struct {
	id       string
	netConn  net.Conn
	incoming bool

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, netConn net.Conn, incoming bool) *conn {
	return &conn{
		id:       id,
		netConn:  netConn,
		incoming: incoming,
		out:      make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// send queues a record for writing. It reports false when the connection
// is closed or the queue is full.
func (c *conn) send(record []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- record:
		return true
	default:
		return false
	}
}

// close shuts the connection down. It is safe to call more than once.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.netConn.Close()
	})
}

// readLoop frames the stream and posts every record to the node. It posts
// a closed event when the stream ends for any reason.
func (c *conn) readLoop(n *Node) {
	framer := wire.NewFramer()
	buf := make([]byte, readBufferSize)

	for {
		nr, err := c.netConn.Read(buf)
		if nr > 0 {
			records, ferr := framer.Feed(buf[:nr])
			for _, record := range records {
				msg, derr := wire.Decode(record)
				switch derr {
				case nil:
					n.post(evMessage{conn: c, msg: msg, size: len(record) + 1})
				default:
					n.post(evMalformed{conn: c, err: derr, size: len(record) + 1})
				}
			}

			if ferr != nil {
				c.close()
				n.post(evConnClosed{conn: c, err: &ConnectionError{PeerID: c.id, Op: "read", Err: ferr}})
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = io.EOF
			}
			c.close()
			n.post(evConnClosed{conn: c, err: &ConnectionError{PeerID: c.id, Op: "read", Err: err}})
			return
		}
	}
}

// writeLoop writes queued records until the connection closes.
func (c *conn) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case record := <-c.out:
			c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.netConn.Write(record); err != nil {
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}
