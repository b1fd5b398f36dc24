package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xtding233/wager-backend/internal/accrual"
	"github.com/xtding233/wager-backend/internal/auth"
	"github.com/xtding233/wager-backend/internal/config"
	"github.com/xtding233/wager-backend/internal/feed"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/grpcapi"
	"github.com/xtding233/wager-backend/internal/httpapi"
	"github.com/xtding233/wager-backend/internal/journal"
	"github.com/xtding233/wager-backend/internal/kv"
	"github.com/xtding233/wager-backend/internal/ledger"
	"github.com/xtding233/wager-backend/internal/logging"
	"github.com/xtding233/wager-backend/internal/metrics"
	"github.com/xtding233/wager-backend/internal/session"
	"github.com/xtding233/wager-backend/internal/settle"
	"github.com/xtding233/wager-backend/internal/telemetry"
)

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:], nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, closer := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.WithError(err).Error("server exited")
	}
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	// a family listed in default.yaml without a valid file is fatal here
	loader := game.NewLoader(cfg.ConfigDir)
	cat, err := game.LoadCatalog(loader)
	if err != nil {
		return fmt.Errorf("load games: %w", err)
	}
	reloader := game.NewReloader(loader, cat, logging.Component(log, "game"))
	log.WithFields(logrus.Fields{"version": cat.Version, "families": cat.Names()}).Info("games loaded")

	store, err := kv.Open(cfg.KVBackend, kv.Options{Path: cfg.KVPath, Logger: logging.Component(log, "kv")})
	if err != nil {
		return fmt.Errorf("open kv: %w", err)
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		return fmt.Errorf("journal dir: %w", err)
	}
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jrnl.Close()

	ldg, house, err := openLedger(ctx, cfg, logging.Component(log, "ledger"))
	if err != nil {
		return err
	}

	rec := metrics.New()
	sessions := auth.NewSessions(store, cfg.AuthTTL)
	engine := settle.New(settle.Config{
		Catalogs: reloader,
		Accrual:  accrual.NewBook(store),
		Ledger:   ldg,
		Journal:  jrnl,
		Sessions: session.NewStore(store),
		House:    house,
		Metrics:  rec,
		Logger:   logging.Component(log, "settle"),
	})

	hub := feed.NewHub(engine, cfg.FeedInterval, cfg.AllowedOrigins, logging.Component(log, "feed"))
	api := httpapi.New(httpapi.Config{
		Engine:         engine,
		Auth:           sessions,
		Metrics:        rec,
		Feed:           hub,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logging.Component(log, "http"),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcSrv = grpcapi.NewServer(lis, grpcapi.NewService(engine, sessions), logging.Component(log, "grpc"))
	}

	if cfg.ReloadInterval > 0 {
		w := reloader.Watch(cfg.ReloadInterval)
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	g.Go(func() error { return hub.Run(gctx) })

	if grpcSrv != nil {
		g.Go(func() error { return grpcSrv.Serve(gctx) })
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// openLedger returns the configured ledger and the house account debits go to.
func openLedger(ctx context.Context, cfg config.Config, log *logrus.Entry) (ledger.Ledger, string, error) {
	switch cfg.Ledger {
	case config.LedgerEth:
		eth, err := ledger.DialEth(ctx, ledger.EthConfig{
			RPCURL:          cfg.EthRPCURL,
			ContractAddress: cfg.EthContract,
			AdminKeyHex:     cfg.EthAdminKey,
			GasLimit:        cfg.EthGasLimit,
			WaitMined:       cfg.EthWaitMined,
			MineTimeout:     cfg.EthMineTimeout,
		}, log)
		if err != nil {
			return nil, "", fmt.Errorf("eth ledger: %w", err)
		}
		house := cfg.HouseAddress
		if house == "" {
			house = eth.Admin()
		}
		return eth, house, nil
	default:
		mem := ledger.NewMemory()
		for addr, amount := range cfg.DevFunds {
			v, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, "", fmt.Errorf("dev funds for %s: %w", addr, err)
			}
			mem.Fund(addr, v)
		}
		log.WithField("funded", len(cfg.DevFunds)).Warn("using in-memory ledger; balances are lost on exit")
		return mem, cfg.HouseAddress, nil
	}
}
