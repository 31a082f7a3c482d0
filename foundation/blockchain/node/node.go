// Package node implements the peer to peer side of a blockchain node. A
// single event loop owns the peer set, the pending requests and every write
// to the chain. Connections, the mining worker and the sync engine talk to
// the loop by posting events and commands.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/mathcoin/node/foundation/blockchain/chainsync"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/mempool"
	"github.com/mathcoin/node/foundation/blockchain/peer"
	"github.com/mathcoin/node/foundation/blockchain/peer/book"
	"github.com/mathcoin/node/foundation/blockchain/worker"
)

// Default settings.
const (
	DefaultListenAddr           = "0.0.0.0:8333"
	DefaultPingInterval         = 30 * time.Second
	DefaultDiscoveryInterval    = 60 * time.Second
	DefaultPersistInterval      = 300 * time.Second
	DefaultCleanupInterval      = 60 * time.Second
	DefaultSyncInterval         = 30 * time.Second
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultMaxBlockTransactions = 1000
)

// EventHandler defines a function that is called when events occur in the
// processing of the node.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to run a node.
type Config struct {
	ListenAddr           string
	KnownPeers           []string
	Database             *database.Database
	BookPath             string
	MaxPeers             int
	MaxBlockTransactions int
	StaleTimeout         time.Duration
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	DiscoveryInterval    time.Duration
	PersistInterval      time.Duration
	CleanupInterval      time.Duration
	SyncInterval         time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	Sync                 chainsync.Config
	EvHandler            EventHandler
}

// Node manages the peer to peer network for a chain.
type Node struct {
	cfg     Config
	nodeID  string
	db      *database.Database
	mempool *mempool.Mempool
	worker  *worker.Worker
	sync    *chainsync.Engine
	book    *book.Book
	ev      EventHandler

	listener   net.Listener
	listenPort int
	inbox      chan event
	commands   chan func()
	shut       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	started    chan struct{}

	// Owned by the event loop.
	peers    *peer.Manager
	conns    map[string]*conn
	dialing  mapset.Set[string]
	known    map[string]peer.SharedAddress
	requests map[requestKey]*request
	mining   *miningJob
	jobID    uint64
}

// New constructs a node over the chain. The node does nothing on the network
// until Start is called.
func New(cfg Config) (*Node, error) {
	if cfg.Database == nil {
		return nil, errors.New("database is required")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MaxBlockTransactions <= 0 {
		cfg.MaxBlockTransactions = DefaultMaxBlockTransactions
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	var bk *book.Book
	if cfg.BookPath != "" {
		var err error
		if bk, err = book.Open(cfg.BookPath); err != nil {
			return nil, fmt.Errorf("opening address book: %w", err)
		}
	}

	n := Node{
		cfg:      cfg,
		nodeID:   uuid.NewString(),
		db:       cfg.Database,
		mempool:  mempool.New(),
		book:     bk,
		ev:       ev,
		inbox:    make(chan event, 256),
		commands: make(chan func()),
		shut:     make(chan struct{}),
		started:  make(chan struct{}),
		peers: peer.NewManager(peer.Config{
			MaxPeers:         cfg.MaxPeers,
			StaleTimeout:     cfg.StaleTimeout,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}),
		conns:    make(map[string]*conn),
		dialing:  mapset.NewThreadUnsafeSet[string](),
		known:    make(map[string]peer.SharedAddress),
		requests: make(map[requestKey]*request),
	}

	syncCfg := cfg.Sync
	syncCfg.Ledger = ledger{node: &n}
	syncCfg.Network = network{node: &n}
	syncCfg.Difficulty = n.db.Genesis().Difficulty
	syncCfg.EvHandler = ev
	n.sync = chainsync.New(syncCfg)

	n.worker = worker.Run(worker.EventHandler(ev))

	return &n, nil
}

// NodeID returns the random identity this node advertises in handshakes.
func (n *Node) NodeID() string {
	return n.nodeID
}

// ListenAddr returns the address the node accepts connections on. It is
// only meaningful after Start.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return n.cfg.ListenAddr
	}
	return n.listener.Addr().String()
}

// Start begins listening for connections, starts the event loop and dials
// the known peers and the addresses in the address book.
func (n *Node) Start() error {
	err := ErrShutdown
	n.startOnce.Do(func() {
		err = n.start()
	})
	return err
}

func (n *Node) start() error {
	if n.isShutdown() {
		return ErrShutdown
	}

	listener, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", n.cfg.ListenAddr, err)
	}

	n.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		n.listenPort = addr.Port
	}

	n.ev("node: Start: listening: addr[%s]: nodeID[%s]: height[%d]", listener.Addr(), n.nodeID, n.db.Height())

	if n.book != nil {
		addrs, err := n.book.Load()
		if err != nil {
			n.ev("node: Start: loading address book: ERROR: %s", err)
		}
		for _, addr := range addrs {
			n.remember(addr)
		}
	}

	for _, hostPort := range n.cfg.KnownPeers {
		addr, err := parseAddress(hostPort)
		if err != nil {
			n.ev("node: Start: known peer %q: ERROR: %s", hostPort, err)
			continue
		}
		n.remember(addr)
	}

	n.wg.Add(2)

	go func() {
		defer n.wg.Done()
		n.acceptLoop()
	}()

	go func() {
		defer n.wg.Done()
		n.loop()
	}()

	close(n.started)

	return n.do(context.Background(), func() {
		for _, addr := range n.known {
			n.dial(addr.Host, addr.Port)
		}
	})
}

// Stop closes every connection, persists the peer list and stops listening.
// Mining and any running sync are aborted.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.ev("node: Stop: started")
		defer n.ev("node: Stop: completed")

		close(n.shut)
		if n.listener != nil {
			n.listener.Close()
		}

		n.sync.Shutdown()
		n.worker.Shutdown()
		n.wg.Wait()

		if n.book != nil {
			n.book.Close()
		}
	})
}

// =============================================================================

// acceptLoop accepts inbound connections until the listener closes.
func (n *Node) acceptLoop() {
	n.ev("node: acceptLoop: G started")
	defer n.ev("node: acceptLoop: G completed")

	for {
		netConn, err := n.listener.Accept()
		if err != nil {
			if n.isShutdown() {
				return
			}
			n.ev("node: acceptLoop: ERROR: %s", err)
			continue
		}

		n.post(evConnOpened{netConn: netConn, incoming: true})
	}
}

// dial connects to the address on its own goroutine. The loop is told about
// the connection once it is established. Must be called by the loop.
func (n *Node) dial(host string, port int) {
	id := peer.ID(host, port)

	switch {
	case n.dialing.Contains(id):
		return
	case n.conns[id] != nil:
		return
	case n.peers.IsBanned(id):
		return
	case n.isSelf(host, port):
		return
	}

	n.dialing.Add(id)
	n.ev("node: dial: peer[%s]", id)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		netConn, err := net.DialTimeout("tcp", id, n.cfg.DialTimeout)
		if err != nil {
			n.post(evDialFailed{id: id, err: &ConnectionError{PeerID: id, Op: "dial", Err: err}})
			return
		}

		n.post(evConnOpened{netConn: netConn, id: id, host: host, port: port})
	}()
}

// isSelf reports whether the address is this node's own listener on the
// loopback interface. Other self connections are caught by the handshake.
func (n *Node) isSelf(host string, port int) bool {
	if port != n.listenPort {
		return false
	}

	ip := net.ParseIP(host)
	return host == "localhost" || (ip != nil && (ip.IsLoopback() || ip.IsUnspecified()))
}

// post hands an event to the loop. It gives up when the node shuts down.
func (n *Node) post(e event) {
	select {
	case n.inbox <- e:
	case <-n.shut:
		if c, ok := e.(evConnOpened); ok {
			c.netConn.Close()
		}
	}
}

// do runs the function on the loop and waits for it to finish.
func (n *Node) do(ctx context.Context, fn func()) error {
	select {
	case <-n.started:
	default:
		return ErrNotStarted
	}

	done := make(chan struct{})
	cmd := func() {
		fn()
		close(done)
	}

	select {
	case n.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.shut:
		return ErrShutdown
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.shut:
		return ErrShutdown
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (n *Node) isShutdown() bool {
	select {
	case <-n.shut:
		return true
	default:
		return false
	}
}

// parseAddress splits host:port into a shareable address.
func parseAddress(hostPort string) (peer.SharedAddress, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return peer.SharedAddress{}, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return peer.SharedAddress{}, fmt.Errorf("invalid port %q", portStr)
	}

	return peer.SharedAddress{Host: host, Port: port}, nil
}
