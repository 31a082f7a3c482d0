package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/mathcoin/node/app/services/node/handlers"
	"github.com/mathcoin/node/foundation/blockchain/chainsync"
	"github.com/mathcoin/node/foundation/blockchain/database"
	"github.com/mathcoin/node/foundation/blockchain/database/storage"
	"github.com/mathcoin/node/foundation/blockchain/genesis"
	"github.com/mathcoin/node/foundation/blockchain/node"
	"github.com/mathcoin/node/foundation/events"
	"github.com/mathcoin/node/foundation/logger"
	"github.com/mathcoin/node/foundation/nameservice"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			ListenAddr           string        `conf:"default:0.0.0.0:8333"`
			KnownPeers           []string
			BookPath             string        `conf:"default:zblock/peers.db"`
			MaxPeers             int           `conf:"default:8"`
			MaxBlockTransactions int           `conf:"default:1000"`
			StaleTimeout         time.Duration `conf:"default:5m"`
			HandshakeTimeout     time.Duration `conf:"default:30s"`
			PingInterval         time.Duration `conf:"default:30s"`
			DiscoveryInterval    time.Duration `conf:"default:60s"`
			PersistInterval      time.Duration `conf:"default:300s"`
			CleanupInterval      time.Duration `conf:"default:60s"`
			SyncInterval         time.Duration `conf:"default:30s"`
		}
		Sync struct {
			HeadersFirstThreshold uint64        `conf:"default:1000"`
			HeaderBatchSize       int           `conf:"default:100"`
			BlockBatchSize        int           `conf:"default:500"`
			RequestTimeout        time.Duration `conf:"default:30s"`
			MaxRetries            int           `conf:"default:3"`
		}
		Storage struct {
			Backend string `conf:"default:disk,help:disk|badger|memory"`
			Path    string `conf:"default:zblock/blocks"`
		}
		Genesis struct {
			Path string `conf:"default:zblock/genesis.json"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/wallets/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "MathCoin peer to peer ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  __  __       _   _      ____      _       `)
	fmt.Println(` |  \/  | __ _| |_| |__  / ___|___ (_)_ __  `)
	fmt.Println(` | |\/| |/ _' | __| '_ \| |   / _ \| | '_ \ `)
	fmt.Println(` | |  | | (_| | |_| | | | |__| (_) | | | | |`)
	fmt.Println(` |_|  |_|\__,_|\__|_| |_|\____\___/|_|_| |_|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for wallet addresses.
	// The names come from the file names in the wallets folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load wallet name service: %w", err)
	}

	// Logging the wallets for documentation in the logs.
	for addr, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "address", addr)
	}

	// =========================================================================
	// Blockchain Support

	// The genesis file pins the values every node on the network must share.
	// Without a file the built in defaults are used.
	gen, err := genesis.Load(cfg.Genesis.Path)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}
	log.Infow("startup", "status", "genesis", "network", gen.Network, "difficulty", gen.Difficulty, "reward", gen.MiningReward)

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The storage backend holds the blocks between restarts.
	var store database.Storage
	switch cfg.Storage.Backend {
	case "disk":
		if store, err = storage.NewDisk(cfg.Storage.Path); err != nil {
			return fmt.Errorf("unable to open disk storage: %w", err)
		}
	case "badger":
		if store, err = storage.NewBadger(cfg.Storage.Path); err != nil {
			return fmt.Errorf("unable to open badger storage: %w", err)
		}
	case "memory":
		store = storage.NewMemory()
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// The database replays and validates the stored chain.
	db, err := database.New(gen, store, ev)
	if err != nil {
		return fmt.Errorf("unable to load the chain: %w", err)
	}
	defer db.Close()

	// The node owns the peer to peer network, the mempool and the miner.
	nd, err := node.New(node.Config{
		ListenAddr:           cfg.Node.ListenAddr,
		KnownPeers:           cfg.Node.KnownPeers,
		Database:             db,
		BookPath:             cfg.Node.BookPath,
		MaxPeers:             cfg.Node.MaxPeers,
		MaxBlockTransactions: cfg.Node.MaxBlockTransactions,
		StaleTimeout:         cfg.Node.StaleTimeout,
		HandshakeTimeout:     cfg.Node.HandshakeTimeout,
		PingInterval:         cfg.Node.PingInterval,
		DiscoveryInterval:    cfg.Node.DiscoveryInterval,
		PersistInterval:      cfg.Node.PersistInterval,
		CleanupInterval:      cfg.Node.CleanupInterval,
		SyncInterval:         cfg.Node.SyncInterval,
		Sync: chainsync.Config{
			HeadersFirstThreshold: cfg.Sync.HeadersFirstThreshold,
			HeaderBatchSize:       cfg.Sync.HeaderBatchSize,
			BlockBatchSize:        cfg.Sync.BlockBatchSize,
			RequestTimeout:        cfg.Sync.RequestTimeout,
			MaxRetries:            cfg.Sync.MaxRetries,
		},
		EvHandler: ev,
	})
	if err != nil {
		return err
	}

	if err := nd.Start(); err != nil {
		return fmt.Errorf("unable to start node: %w", err)
	}
	defer nd.Stop()

	log.Infow("startup", "status", "node started", "nodeid", nd.NodeID(), "host", nd.ListenAddr())

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, nd)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Node:     nd,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Node:     nd,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
