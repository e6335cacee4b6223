package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/duplex-relay/internal/adapters/http"
	"github.com/dkeye/duplex-relay/internal/app"
	"github.com/dkeye/duplex-relay/internal/app/orch"
	"github.com/dkeye/duplex-relay/internal/config"
	"github.com/dkeye/duplex-relay/internal/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay-server",
		Short:        "Two-party real-time audio relay",
		Long:         "relay-server connects exactly two peer roles over WebSocket, relays audio and presence between them, and evicts silent peers after a heartbeat timeout.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.Flags())
		},
	}
	f := cmd.Flags()
	f.String("env", "", "config environment, reads config/config.<env>.yaml (default $CONFIG_ENV or dev)")
	f.Int("port", 8080, "listen port")
	f.String("mode", "release", "gin mode: release or debug")
	f.String("log-level", "info", "log level")
	f.String("role-a", "bernard", "name of the streaming role")
	f.String("role-b", "liliann", "name of the listening role")
	return cmd
}

func run(parent context.Context, flags *pflag.FlagSet) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(flags)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	if cfg.Mode != "debug" {
		// JSON lines outside debug mode.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Err(err).Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	roles, err := domain.NewRoles(cfg.Roles.A, cfg.Roles.B)
	if err != nil {
		return fmt.Errorf("roles: %w", err)
	}

	reg := app.NewRegistry(roles)
	o := orch.New(reg, orch.Options{
		ServerName:       cfg.ServerName,
		HeartbeatTimeout: cfg.Heartbeat.Timeout,
		CheckPeriod:      cfg.Heartbeat.CheckPeriod,
		CleanupPeriod:    cfg.Heartbeat.CleanupPeriod,
		KeepalivePeriod:  cfg.PingPeriod,
		StatusLogPeriod:  cfg.Heartbeat.StatusLogPeriod,
	})
	sched := app.NewScheduler(o.Tasks()...)

	// Connections outlive the signal context: they are closed by the
	// shutdown sequence, not by the interrupt itself.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	r := router.SetupRouter(connCtx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("role_a", string(roles.A)).Str("role_b", string(roles.B)).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		o.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		connCancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
