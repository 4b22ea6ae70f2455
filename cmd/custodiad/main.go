package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"custodia/cmd/internal/passphrase"
	"custodia/config"
	"custodia/core/node"
	"custodia/crypto"
	"custodia/gateway/auth"
	"custodia/gateway/middleware"
	"custodia/observability/logging"
	"custodia/observability/otel"
	"custodia/rpc"
	"custodia/storage/eventlog"
)

const passphraseEnv = "CUSTODIA_KEYSTORE_PASSPHRASE"

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup("custodiad", os.Getenv("CUSTODIA_ENV"), logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Init(ctx, otel.Config{
		ServiceName: "custodiad",
		Environment: os.Getenv("CUSTODIA_ENV"),
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
		Metrics:     cfg.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if cfg.KeystorePath != "" {
		if err := ensureNodeKey(cfg.KeystorePath, logger); err != nil {
			return err
		}
	}

	admin, err := cfg.Admin()
	if err != nil {
		return err
	}
	inspector, err := cfg.Inspector()
	if err != nil {
		return err
	}
	lender, err := cfg.Lender()
	if err != nil {
		return err
	}
	n := node.New(node.Roles{Admin: admin, Inspector: inspector, Lender: lender})

	for _, acc := range cfg.Genesis {
		decoded, err := crypto.DecodeAddress(acc.Address)
		if err != nil {
			return fmt.Errorf("genesis address %s: %w", acc.Address, err)
		}
		amount, ok := new(big.Int).SetString(acc.Amount, 10)
		if !ok {
			return fmt.Errorf("genesis amount %q is not a base-10 integer", acc.Amount)
		}
		var raw [20]byte
		copy(raw[:], decoded.Bytes())
		if err := n.CreditAccount(raw, amount); err != nil {
			return fmt.Errorf("seed genesis account %s: %w", acc.Address, err)
		}
	}
	logger.Info("ledger initialised",
		"admin", crypto.MustAddress(admin),
		"inspector", crypto.MustAddress(inspector),
		"lender", crypto.MustAddress(lender),
		"genesisAccounts", len(cfg.Genesis),
	)

	log, err := eventlog.Open(filepath.Join(cfg.DataDir, "events"))
	if err != nil {
		return err
	}
	defer log.Close()
	stopFollow, err := log.Follow(n.Outbox())
	if err != nil {
		return fmt.Errorf("follow outbox: %w", err)
	}
	defer stopFollow()

	var authenticator *auth.Authenticator
	if cfg.JWTSecretFile != "" {
		secret, err := os.ReadFile(cfg.JWTSecretFile)
		if err != nil {
			return fmt.Errorf("read jwt secret: %w", err)
		}
		trimmed := strings.TrimSpace(string(secret))
		if trimmed == "" {
			return errors.New("jwt secret file is empty")
		}
		authenticator = auth.NewAuthenticator([]byte(trimmed), "custodiad")
	} else {
		logger.Warn("no JWTSecretFile configured; gateway runs unauthenticated")
	}

	store, err := rpc.OpenStore(filepath.Join(cfg.DataDir, "gateway.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	server := rpc.NewServer(rpc.Options{
		Node:          n,
		Store:         store,
		Authenticator: authenticator,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimitPerMinute),
			Burst:             cfg.RateLimitBurst,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "address", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ensureNodeKey loads the node key from the keystore, generating and saving a
// fresh one on first start.
func ensureNodeKey(path string, logger interface{ Info(string, ...any) }) error {
	source := passphrase.NewSource(passphraseEnv)
	if _, err := os.Stat(path); err == nil {
		secret, err := source.Get()
		if err != nil {
			return err
		}
		key, err := crypto.LoadFromKeystore(path, secret)
		if err != nil {
			return fmt.Errorf("unlock keystore %s: %w", path, err)
		}
		logger.Info("node key loaded", "address", key.PubKey().Address().String())
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	secret, err := source.Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(path, key, secret); err != nil {
		return fmt.Errorf("write keystore %s: %w", path, err)
	}
	logger.Info("node key generated", "address", key.PubKey().Address().String())
	return nil
}
