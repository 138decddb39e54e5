// Command gate runs the exchange gateway: it bridges a core trading engine
// to one exchange over the messaging transport, translating create/cancel/
// get commands into exchange calls and streaming back order books,
// balances, order updates, and metrics.
//
// Startup is config load → validate → logger setup → construct the
// scheduler → wait on SIGINT/SIGTERM. Shutdown closes the transport bus
// first so no more inbound commands are accepted, then the session pools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	sdktransport "github.com/GoPolymarket/polymarket-go-sdk/pkg/transport"

	"gate/internal/config"
	"gate/internal/driver/polymarket"
	"gate/internal/exchange"
	"gate/internal/registry"
	"gate/internal/scheduler"
	"gate/internal/session"
	"gate/internal/store"
	"gate/internal/transport"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a graceful stop signal, non-zero
// on any unrecovered startup or runtime error.
func run() int {
	cfgPath := "config.json"
	if p := os.Getenv("GATE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(config.FileSource{Path: cfgPath})
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return 1
	}

	logger := newLogger(os.Getenv("GATE_LOG_FORMAT"), os.Getenv("GATE_LOG_LEVEL"))
	gc := cfg.Data.Configs.GateConfig

	reg, closeStore, err := buildRegistry(os.Getenv("GATE_STORE_DIR"))
	if err != nil {
		logger.Error("failed to open registry store", "error", err)
		return 1
	}
	defer closeStore()

	drv, feed, err := buildDriver(gc, cfg.Symbols(), logger)
	if err != nil {
		logger.Error("failed to construct exchange driver", "error", err)
		return 1
	}
	exch := exchange.New(drv, logger)

	publicPool, err := buildPublicPool(gc)
	if err != nil {
		logger.Error("failed to construct public session pool", "error", err)
		return 1
	}
	privatePool := buildPrivatePool(gc)

	bus, closeBus, err := buildBus(gc, cfg.Algo, logger)
	if err != nil {
		logger.Error("failed to construct transport bus", "error", err)
		return 1
	}

	sched := scheduler.New(exch, publicPool, privatePool, reg, bus, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The user-channel feed backing watch_orders reconnects on its own; its
	// lifetime is the process's, ended by the same signal context.
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("user feed stopped", "error", err)
		}
	}()

	logger.Info("gate starting",
		"exchange_id", gc.Exchange.ExchangeID,
		"symbols", cfg.Symbols(),
		"instance", gc.Info.Instance,
	)

	runErr := sched.Run(ctx)

	logger.Info("gate stopping")

	// Stop accepting/emitting over the bus before tearing down the pools
	// backing in-flight exchange calls.
	if err := closeBus(); err != nil {
		logger.Error("error closing transport bus", "error", err)
	}
	if err := publicPool.Close(); err != nil {
		logger.Error("error closing public session pool", "error", err)
	}
	if err := privatePool.Close(); err != nil {
		logger.Error("error closing private session pool", "error", err)
	}
	if err := exch.Close(); err != nil {
		logger.Error("error closing exchange driver", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("gate exited with error", "error", runErr)
		return 1
	}
	return 0
}

func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRegistry(dir string) (*registry.Registry, func() error, error) {
	if dir == "" {
		dir = "./data/registry"
	}
	st, err := store.Open(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open registry store: %w", err)
	}
	return registry.New(st), st.Close, nil
}

// buildDriver constructs the one concrete driver.Driver this binary ships
// with, plus the user-channel feed backing its watch_orders stream; see
// internal/driver/polymarket.
func buildDriver(gc config.GateConfig, symbols []string, logger *slog.Logger) (*polymarket.Driver, *polymarket.Feed, error) {
	account := gc.Exchange.Credentials
	if len(gc.Exchange.Accounts) > 0 {
		account = gc.Exchange.Accounts[0].Credentials
	}

	privateKeyHex := os.Getenv("GATE_PRIVATE_KEY")
	chainID := int64(137) // Polygon mainnet
	signer, err := polymarket.NewSigner(privateKeyHex, chainID, account.ApiKey, account.Secret, account.Passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("construct signer: %w", err)
	}

	httpClient := sdktransport.NewClient(nil, clobHost(gc))
	clobClient := clob.NewClient(httpClient).WithAuth(signer, &auth.APIKey{
		Key:        account.ApiKey,
		Secret:     account.Secret,
		Passphrase: account.Passphrase,
	})
	drv := polymarket.New(clobClient, signer)

	feed := polymarket.NewFeed(wsHost(gc)+"/ws/user", signer, symbols, logger)
	drv.AttachFeed(feed)
	return drv, feed, nil
}

func clobHost(gc config.GateConfig) string {
	if gc.Exchange.IsTestKeys {
		return "https://clob-staging.polymarket.com"
	}
	return "https://clob.polymarket.com"
}

func wsHost(gc config.GateConfig) string {
	if gc.Exchange.IsTestKeys {
		return "wss://ws-subscriptions-clob-staging.polymarket.com"
	}
	return "wss://ws-subscriptions-clob.polymarket.com"
}

// buildPublicPool creates one public session per configured public IP,
// falling back to a single unbound session when none are configured.
func buildPublicPool(gc config.GateConfig) (*session.Pool, error) {
	ips := gc.RateLimits.ApiRequestsPerSeconds.Public.IPList
	if len(ips) == 0 {
		ips = []string{""}
	}

	sessions := make([]*session.Session, 0, len(ips))
	for _, ip := range ips {
		sess, err := session.NewPublicSession(ip, clobHost(gc), 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("construct public session for %s: %w", ip, err)
		}
		sessions = append(sessions, sess)
	}

	rps := gc.RateLimits.ApiRequestsPerSeconds.Public.ExchangeRPSLimit
	minInterval := time.Duration(float64(time.Second) * float64(len(sessions)) / rps)
	return session.NewPool(sessions, minInterval), nil
}

// buildPrivatePool creates one private session per configured account,
// multiplexing multiple API-key accounts over the private pool.
func buildPrivatePool(gc config.GateConfig) *session.Pool {
	accounts := gc.Exchange.Accounts
	if len(accounts) == 0 {
		accounts = []config.Account{{Credentials: gc.Exchange.Credentials}}
	}

	// Account credentials feed the signer (buildDriver), not the HTTP session
	// itself; this pool only needs one slot per account to round-robin over.
	sessions := make([]*session.Session, 0, len(accounts))
	for i := range accounts {
		sessions = append(sessions, session.NewPrivateSession(
			fmt.Sprintf("account-%d", i),
			clobHost(gc),
			10*time.Second,
		))
	}

	rps := gc.RateLimits.ApiRequestsPerSeconds.Private.ExchangeRPSLimit
	minInterval := time.Duration(float64(time.Second) * float64(len(sessions)) / rps)
	return session.NewPool(sessions, minInterval)
}

// buildBus wires the transport.Bus over a concrete pub/sub implementation.
// The channel-backed implementation stands in for the real messaging
// transport as an external collaborator; swapping in a real binding means
// only replacing this function.
func buildBus(gc config.GateConfig, algo string, logger *slog.Logger) (*transport.Bus, func() error, error) {
	sub := transport.NewChannelSubscriber(1024)
	orderbooks := transport.NewChannelPublisher(1024)
	balances := transport.NewChannelPublisher(1024)
	core := transport.NewChannelPublisher(1024)
	logs := transport.NewChannelPublisher(1024)

	bus := transport.New(sub, orderbooks, balances, core, logs, transport.Config{
		Exchange: gc.Exchange.ExchangeID,
		Instance: gc.Info.Instance,
		Algo:     algo,
	}, logger)

	return bus, bus.Close, nil
}
