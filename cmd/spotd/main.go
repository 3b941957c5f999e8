package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spotchain/config"
	"spotchain/core/events"
	"spotchain/core/state"
	"spotchain/indexer"
	nativecommon "spotchain/native/common"
	"spotchain/native/fees"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
	"spotchain/native/token"
	"spotchain/observability/logging"
	telemetry "spotchain/observability/otel"
	"spotchain/rpc"
	"spotchain/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./spotd.toml", "path to spotd configuration (toml or yaml)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "spotd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("SPOT_ENV")); override != "" {
		env = override
	}
	logger := logging.Setup("spotd", env, logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	headers := telemetry.ParseHeaders(cfg.Telemetry.Headers)
	logger.Info("telemetry configured",
		"endpoint", cfg.Telemetry.Endpoint,
		logging.MaskHeaders("headers", headers))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "spotd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(cfg.StorageBackend, cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	indexDB, err := indexer.Open(cfg.IndexPath())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	ix, err := indexer.New(indexDB, logger)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer ix.Close()

	mgr := state.NewManager(db)
	ledger := token.NewLedger(mgr)
	emitter := events.Fanout{ix, events.LogEmitter{Logger: logger.With("component", "events")}}
	pauses := cfg.Pauses.View()

	exec := nativecommon.NewExecutor()

	lendingSchedule, err := loadSchedule(mgr, lending.ModuleName, cfg.Fees.Lending)
	if err != nil {
		return err
	}
	lendingEngine := lending.NewEngine(nativecommon.ModuleAddress(lending.ModuleName))
	lendingEngine.SetState(mgr)
	lendingEngine.SetExecutor(exec)
	lendingEngine.SetTokens(ledger)
	lendingEngine.SetMetadata(ledger)
	lendingEngine.SetFeeSchedule(lendingSchedule)
	lendingEngine.SetPauses(pauses)
	lendingEngine.SetEmitter(emitter)
	lendingEngine.SetLogger(logger.With("module", "lending"))

	streamSchedule, err := loadSchedule(mgr, stream.ModuleName, cfg.Fees.Stream)
	if err != nil {
		return err
	}
	streamEngine := stream.NewEngine(nativecommon.ModuleAddress(stream.ModuleName))
	streamEngine.SetState(mgr)
	streamEngine.SetExecutor(exec)
	streamEngine.SetTokens(ledger)
	streamEngine.SetMetadata(ledger)
	streamEngine.SetFeeSchedule(streamSchedule)
	streamEngine.SetPauses(pauses)
	streamEngine.SetEmitter(emitter)
	streamEngine.SetLogger(logger.With("module", "stream"))

	poolSchedule, err := loadSchedule(mgr, pool.ModuleName, cfg.Fees.Pool)
	if err != nil {
		return err
	}
	poolEngine := pool.NewEngine(nativecommon.ModuleAddress(pool.ModuleName))
	poolEngine.SetState(mgr)
	poolEngine.SetExecutor(exec)
	poolEngine.SetRegistry(mgr)
	poolEngine.SetTokens(ledger)
	poolEngine.SetMetadata(ledger)
	poolEngine.SetFeeSchedule(poolSchedule)
	poolEngine.SetPauses(pauses)
	poolEngine.SetEmitter(emitter)
	poolEngine.SetLogger(logger.With("module", "pool"))

	server := rpc.NewServer(rpc.Backends{
		Lending:  lendingEngine,
		Streams:  streamEngine,
		Pools:    poolEngine,
		Tokens:   ledger,
		Events:   ix,
		Executor: exec,
		State:    mgr,
	}, rpc.Config{
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		AuthToken:          cfg.RPCAuthToken,
		AllowFaucet:        cfg.AllowFaucet,
	}, logger)
	if cfg.RPCAuthToken == "" {
		logger.Warn("write routes disabled: RPCAuthToken not set")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("spotd listening",
			"addr", cfg.ListenAddress,
			"storage", cfg.StorageBackend,
			"index", cfg.IndexPath())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := exec.Commit(mgr); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	logger.Info("state committed")
	return nil
}

// loadSchedule prefers the schedule persisted by fee admin calls over the
// configured one.
func loadSchedule(mgr *state.Manager, module string, fee config.Fee) (*fees.Schedule, error) {
	configured, err := fee.Schedule()
	if err != nil {
		return nil, fmt.Errorf("%s fees: %w", module, err)
	}
	schedule, err := fees.Load(mgr, module, configured)
	if err != nil {
		return nil, fmt.Errorf("%s fees: %w", module, err)
	}
	return schedule, nil
}
