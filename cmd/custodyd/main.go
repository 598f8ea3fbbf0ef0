package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trustledger/config"
	"trustledger/core"
	"trustledger/indexer"
	"trustledger/observability/logging"
	telemetry "trustledger/observability/otel"
	"trustledger/rpc"
	"trustledger/storage"
)

const (
	serviceName = "custodyd"
	envVar      = "TRUSTLEDGER_ENV"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		slog.Error("custodyd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile string) error {
	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup(serviceName, env, "info")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out, closer := logging.Output(logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer closer.Close()
	if env == "" {
		env = cfg.Environment
	}
	logger = logging.SetupTo(out, serviceName, env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		Network:     cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	alloc, err := genesisAlloc(cfg)
	if err != nil {
		return err
	}
	opts := core.Options{
		Network:       cfg.NetworkName,
		HashAlgorithm: cfg.Integrity.HashAlgorithm,
		Genesis:       alloc,
		Logger:        logger,
	}
	if driver := strings.TrimSpace(cfg.Indexer.Driver); driver != "" {
		idx, err := indexer.Open(driver, cfg.Indexer.DSN, logger)
		if err != nil {
			return err
		}
		defer idx.Close()
		opts.Emitter = idx
		logger.Info("event indexer enabled", slog.String("driver", driver))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	server, err := rpc.NewServer(node, serverConfig(cfg, os.Getenv), logger)
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}
	return server.Serve(ctx, cfg.RPCAddress)
}

func genesisAlloc(cfg *config.Config) ([]core.GenesisAlloc, error) {
	alloc := make([]core.GenesisAlloc, 0, len(cfg.Genesis.Alloc))
	for _, entry := range cfg.Genesis.Alloc {
		addr, balance, err := entry.Parse()
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		alloc = append(alloc, core.GenesisAlloc{Address: addr, Balance: balance})
	}
	return alloc, nil
}

// serverConfig resolves the RPC settings. Credentials are read from the
// environment variables the configuration names.
func serverConfig(cfg *config.Config, getenv func(string) string) rpc.ServerConfig {
	return rpc.ServerConfig{
		AuthToken:          strings.TrimSpace(getenv(cfg.RPC.AuthTokenEnv)),
		JWTSecret:          strings.TrimSpace(getenv(cfg.RPC.JWTSecretEnv)),
		JWTIssuer:          cfg.RPC.JWTIssuer,
		JWTLeeway:          time.Duration(cfg.RPC.JWTLeewaySec) * time.Second,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		TrustProxyHeaders:  cfg.RPC.TrustProxyHeaders,
		MaxRequestBytes:    cfg.RPC.MaxBodyBytes,
		ReadHeaderTimeout:  time.Duration(cfg.RPC.ReadHeaderTimeoutSec) * time.Second,
	}
}
