package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timegate/config"
	"timegate/core/state"
	"timegate/native/subscription"
	"timegate/native/token"
	"timegate/observability"
	"timegate/observability/logging"
	"timegate/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TIMEGATE_ENV"))
	logger := logging.Setup("timegated", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := bootstrap(manager, cfg, logger); err != nil {
		logger.Error("Failed to bootstrap state", slog.Any("error", err))
		os.Exit(1)
	}

	emitter := observability.NewEventMetrics(nil)
	factory := token.NewStateFactory(manager)
	factory.SetEmitter(emitter)
	registry := subscription.NewRegistry(manager, factory)
	registry.SetEmitter(emitter)

	if err := configureDefaultTreasury(registry, cfg, logger); err != nil {
		logger.Error("Failed to configure default treasury", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}

	go func() {
		logger.Info("Metrics endpoint listening", slog.String("address", cfg.MetricsAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Subscription registry ready",
		slog.String("paymentToken", strings.ToUpper(cfg.PaymentToken.Symbol)),
		slog.String("dataDir", cfg.DataDir),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.Any("error", err))
	}
	logger.Info("Shutdown complete")
}

// bootstrap registers the payment token and grants the configured admin
// accounts the subscription admin role. Both operations are idempotent across
// restarts.
func bootstrap(manager *state.Manager, cfg *config.Config, logger *slog.Logger) error {
	symbol := strings.ToUpper(strings.TrimSpace(cfg.PaymentToken.Symbol))
	if !manager.TokenExists(symbol) {
		if err := manager.RegisterToken(symbol, cfg.PaymentToken.Name, cfg.PaymentToken.Decimals, cfg.PaymentToken.MetadataURI); err != nil {
			return err
		}
		logger.Info("Registered payment token",
			slog.String("symbol", symbol),
			slog.Int("decimals", int(cfg.PaymentToken.Decimals)),
		)
	}
	admins, err := cfg.AdminAddresses()
	if err != nil {
		return err
	}
	for _, admin := range admins {
		if err := manager.SetRole("ROLE_SUBSCRIPTION_ADMIN", admin.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// configureDefaultTreasury seeds the registry-wide fallback treasury from the
// config file, acting as the first configured admin.
func configureDefaultTreasury(registry *subscription.Registry, cfg *config.Config, logger *slog.Logger) error {
	treasury, ok, err := cfg.DefaultTreasuryAddress()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	admins, err := cfg.AdminAddresses()
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		logger.Warn("DefaultTreasury configured but no Admins present; skipping")
		return nil
	}
	var caller, dest [20]byte
	copy(caller[:], admins[0].Bytes())
	copy(dest[:], treasury.Bytes())
	if _, configured, err := registry.DefaultTreasury(); err != nil {
		return err
	} else if configured {
		return nil
	}
	if err := registry.SetDefaultTreasury(caller, dest); err != nil {
		return err
	}
	logger.Info("Default treasury configured", slog.String("treasury", treasury.String()))
	return nil
}
