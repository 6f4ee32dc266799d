package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/lottery_dapp/internal/api"
	"github.com/R3E-Network/lottery_dapp/internal/chain"
	"github.com/R3E-Network/lottery_dapp/internal/config"
	"github.com/R3E-Network/lottery_dapp/internal/journal"
	"github.com/R3E-Network/lottery_dapp/internal/lottery"
	"github.com/R3E-Network/lottery_dapp/internal/scheduler"
	"github.com/R3E-Network/lottery_dapp/internal/session"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	*rootOptions
	network     string
	mode        string
	listen      string
	autoConnect bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lottery session API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.network, "network", "", "network profile: localnet, devnet, mainnet (default from LOTTERY_NETWORK)")
	flags.StringVar(&opts.mode, "mode", "", "controller mode: demo or strict (default from LOTTERY_MODE)")
	flags.StringVar(&opts.listen, "listen", "", "listen address (default from LOTTERY_LISTEN_ADDR)")
	flags.BoolVar(&opts.autoConnect, "connect", false, "connect the configured wallet on startup")
	return cmd
}

// app is the wired service graph.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	client    *chain.Client
	ctrl      *session.Controller
	server    *api.Server
	scheduler *scheduler.Scheduler
	adapter   wallet.Adapter
	closers   []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	client, err := chain.NewClient(chain.Config{
		RPCURL:         cfg.Endpoint(),
		Commitment:     cfg.Commitment,
		Timeout:        cfg.RPCTimeout,
		PollInterval:   cfg.PollInterval,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create chain client: %w", err)
	}
	a.client = client

	programID, err := solana.PublicKeyFromBase58(cfg.Program())
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", cfg.Program(), err)
	}
	idl, err := lottery.LoadIDL(cfg.IDLPath)
	if err != nil {
		return nil, err
	}
	proxy := lottery.NewProxy(client, programID, idl, log)

	store, err := a.openJournal(ctx)
	if err != nil {
		return nil, err
	}

	a.ctrl = session.NewController(proxy, session.Options{
		Mode:     cfg.Mode,
		Journal:  store,
		Balances: client,
		Logger:   log,
	})
	a.adapter = wallet.Resolve(cfg.Keypair(), cfg.SecretKey)

	a.server = api.NewServer(api.Options{
		Controller:  a.ctrl,
		Journal:     store,
		Adapter:     a.adapter,
		Ledger:      client,
		Logger:      log,
		Version:     version,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		CORSOrigins: splitList(cfg.CORSOrigins),
	})

	if cfg.RefreshSchedule != "" {
		a.scheduler, err = scheduler.New(cfg.RefreshSchedule, a.ctrl, log)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openJournal(ctx context.Context) (journal.Store, error) {
	if a.cfg.JournalDSN == "" {
		return journal.NewMemoryStore(0), nil
	}
	pg, err := journal.OpenPostgres(ctx, a.cfg.JournalDSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := opts.load(opts.network, opts.mode)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
	}
	log := newLogger(cfg)

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.autoConnect {
		if err := a.ctrl.Connect(ctx, a.adapter); err != nil {
			log.WithError(err).Warn("startup wallet connection failed")
		}
	}

	a.server.StartCleanup(ctx)
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	// No WriteTimeout: actions wait for confirmation and /api/events is long-lived.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{
			"addr":    cfg.ListenAddr,
			"network": cfg.Network,
			"rpc":     cfg.Endpoint(),
			"program": cfg.Program(),
			"mode":    cfg.Mode,
		}).Info("lottery API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("scheduler stop failed")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
