/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load configuration (file, then WATERCAN_* environment)
  2. Build the zap logger
  3. Open the SQLite store
  4. Wire ledger services, access guard and API handler
  5. Start the ledger auditor
  6. Serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: search ./config.yaml, ./config/config.yaml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor
  4. Close database connection

EXAMPLES:
  ./server -config=./config/config.yaml
  WATERCAN_DATABASE_PATH=":memory:" WATERCAN_AUTH_TRUST_BEARER_SUBJECT=true ./server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/watercan/ledger-engine/access"
	"github.com/watercan/ledger-engine/api"
	"github.com/watercan/ledger-engine/config"
	"github.com/watercan/ledger-engine/ledger"
	"github.com/watercan/ledger-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	services := ledger.New(store, ledger.Pricing{
		UnitPrice:       cfg.Pricing.UnitPrice,
		StartingBalance: cfg.Pricing.StartingBalance,
	}, ledger.Env{Logger: logger.Named("ledger")})

	guard := newGuard(cfg.Auth, store, logger.Named("access"))
	handler := api.NewHandler(services, guard, store, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	auditor := api.NewLedgerAuditor(services, logger.Named("audit"))
	auditor.Enabled = cfg.Audit.Enabled
	auditor.Interval = cfg.Audit.Interval
	auditor.Start()
	defer auditor.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newGuard resolves identities from configured tokens (and, when trusted,
// the raw bearer subject) and roles from claims, the owner list and
// customer records in that order.
func newGuard(cfg config.AuthConfig, customers access.CustomerLookup, logger *zap.Logger) *access.Guard {
	tokens := make(access.TokenTable, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		id := access.Identity{Subject: t.Subject, Name: t.Name, Email: t.Email}
		if t.Role != "" {
			id.Claims = map[string]string{"role": t.Role}
		}
		tokens[t.Token] = id
	}

	identities := access.Chain{tokens}
	if cfg.TrustBearerSubject {
		logger.Warn("trusting bearer credentials as subjects; use only behind a verifying proxy")
		identities = append(identities, access.BearerSubject{})
	}

	return &access.Guard{
		Identities: identities,
		Strategies: []access.RoleStrategy{
			{Name: "claims", Source: access.ClaimRole{Claim: "role"}, OnError: access.FallThrough},
			{Name: "owners", Source: access.NewOwnerList(cfg.Owners), OnError: access.FailClosed},
			{Name: "customer_record", Source: access.CustomerRecord{Customers: customers}, OnError: access.FallThrough},
		},
		DefaultRole: access.Role(cfg.DefaultRole),
		Logger:      logger,
	}
}
