package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"xficredit/app"
	protocol "xficredit/config"
	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/bank"
	"xficredit/observability/logging"
	telemetry "xficredit/observability/otel"
	"xficredit/services/ledgerd/config"
	"xficredit/services/ledgerd/journal"
	"xficredit/services/ledgerd/publisher"
	"xficredit/services/ledgerd/server"
	"xficredit/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/ledgerd/config.yaml", "path to ledgerd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("ledgerd: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupWith(logging.Options{
		Service:    "ledgerd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	protocolCfg, err := protocol.Load(cfg.ProtocolPath)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	yieldPort, lendingPort, err := buildPorts(cfg.Bank, logger)
	if err != nil {
		return err
	}

	hub := server.NewHub(logger)
	emitters := events.Fanout{hub}

	var eventJournal *journal.Journal
	if cfg.Journal.Driver != "" {
		eventJournal, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer eventJournal.Close()
		eventJournal.SetLogger(logger.With("component", "journal"))
		emitters = append(emitters, eventJournal)
	}

	var pub *publisher.Publisher
	if cfg.Redis.Addr != "" {
		client := publisher.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		pub = publisher.New(client, cfg.Redis.Channel, cfg.Redis.Buffer)
		pub.SetLogger(logger.With("component", "publisher"))
		emitters = append(emitters, pub)
	}

	ledgers, err := app.New(protocolCfg, app.Options{
		Store:       state.NewManager(db),
		YieldPort:   yieldPort,
		LendingPort: lendingPort,
		Emitter:     emitters,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Ledgers: ledgers,
		Hub:     hub,
		Auth: server.AuthConfig{
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ClockSkew:      cfg.Auth.ClockSkew.Duration,
			AnonymousReads: cfg.Auth.AnonymousReads,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	}
	if eventJournal != nil {
		srvCfg.Journal = eventJournal
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("ledgerd listening", "addr", cfg.ListenAddress, "owner", protocolCfg.Owner.String(),
			"storage", cfg.Storage.Backend, "bank", cfg.Bank.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	if pub != nil {
		group.Go(func() error { return pub.Run(groupCtx) })
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			return httpServer.Close()
		}
		return nil
	})
	return group.Wait()
}

// buildPorts returns the yield and lending transfer ports for the configured
// bank mode.
func buildPorts(cfg config.BankConfig, logger *slog.Logger) (bank.Port, bank.Port, error) {
	yieldCustody, err := custody(cfg.YieldCustody, app.YieldCustody)
	if err != nil {
		return nil, nil, err
	}
	lendingCustody, err := custody(cfg.LendingCustody, app.LendingCustody)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Mode == config.BankRemote {
		logger.Info("using remote bank", "baseURL", cfg.BaseURL, logging.MaskField("apiToken", cfg.APIToken))
		remote := func(addr crypto.Address) (bank.Port, error) {
			return bank.NewRemotePort(bank.RemoteConfig{
				BaseURL:  cfg.BaseURL,
				Custody:  addr,
				APIToken: cfg.APIToken,
				Timeout:  cfg.Timeout.Duration,
			})
		}
		yieldPort, err := remote(yieldCustody)
		if err != nil {
			return nil, nil, err
		}
		lendingPort, err := remote(lendingCustody)
		if err != nil {
			return nil, nil, err
		}
		return yieldPort, lendingPort, nil
	}

	ledger := bank.NewBank()
	for _, mint := range cfg.Genesis {
		account, err := crypto.ParseAddress(mint.Account)
		if err != nil {
			return nil, nil, fmt.Errorf("genesis account %q: %w", mint.Account, err)
		}
		amount, ok := config.ParseAmount(mint.Amount)
		if !ok {
			return nil, nil, fmt.Errorf("genesis amount %q invalid", mint.Amount)
		}
		if err := ledger.Mint(mint.Token, account, amount); err != nil {
			return nil, nil, fmt.Errorf("genesis mint: %w", err)
		}
	}
	if len(cfg.Genesis) > 0 {
		logger.Warn("in-memory bank minted genesis balances", "accounts", len(cfg.Genesis))
	}
	return ledger.Port(yieldCustody), ledger.Port(lendingCustody), nil
}

func custody(raw, label string) (crypto.Address, error) {
	addr, ok, err := config.Custody(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s custody: %w", label, err)
	}
	if !ok {
		return app.CustodyAddress(label), nil
	}
	return addr, nil
}
