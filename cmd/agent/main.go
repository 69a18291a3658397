package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/admin"
	"github.com/sungwon/mail-agent/internal/api"
	"github.com/sungwon/mail-agent/internal/config"
	"github.com/sungwon/mail-agent/internal/executor"
	"github.com/sungwon/mail-agent/internal/health"
	"github.com/sungwon/mail-agent/internal/identity"
	"github.com/sungwon/mail-agent/internal/journal"
	"github.com/sungwon/mail-agent/internal/logger"
	"github.com/sungwon/mail-agent/internal/queue"
	"github.com/sungwon/mail-agent/internal/reporter"
	"github.com/sungwon/mail-agent/internal/scheduler"
	"github.com/sungwon/mail-agent/internal/updates"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Str("version", version).Msg("mail agent starting")

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("agent exited with error")
	}
	log.Info().Msg("mail agent stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// Hard-abort context. Canceled only on a second termination signal;
	// the first one triggers the graceful drain instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := identity.NewStore(identity.Tunables{
		PollInterval:   cfg.Agent.PollInterval,
		SendInterval:   cfg.Agent.SendInterval,
		BatchSize:      cfg.Agent.BatchSize,
		HealthInterval: cfg.Agent.HealthInterval,
	})

	client := api.NewClient(
		cfg.Server.URL,
		cfg.Server.Secret,
		cfg.Server.Nickname,
		version,
		api.NewHTTPClient(cfg.Server.Timeout),
		log.With().Str("component", "api").Logger(),
	)

	jnl, err := journal.Open(cfg.Journal.Path, log.With().Str("component", "journal").Logger())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	oauthTokens := executor.NewTokenManager(executor.NewHTTPClient(cfg.Server.Timeout))
	exec := executor.New(
		executor.NewSMTPTransport(),
		executor.NewIMAPChecker(oauthTokens),
		oauthTokens,
		executor.PacingConfig{
			ConnectDelayMin:  cfg.Pacing.ConnectDelayMin,
			ConnectDelayMax:  cfg.Pacing.ConnectDelayMax,
			PostSendDelayMin: cfg.Pacing.PostSendDelayMin,
			PostSendDelayMax: cfg.Pacing.PostSendDelayMax,
		},
		log.With().Str("component", "executor").Logger(),
	)

	q := queue.New(log.With().Str("component", "queue").Logger())
	rep := reporter.New(client, tokens, jnl, log.With().Str("component", "reporter").Logger())
	sched := scheduler.New(client, q, exec, rep, tokens, jnl,
		log.With().Str("component", "scheduler").Logger())

	heartbeat := health.NewLoop(client, tokens, sched,
		log.With().Str("component", "health").Logger())
	go heartbeat.Run(ctx)

	watcher := updates.NewWatcher(version, tokens, sched,
		log.With().Str("component", "updates").Logger())
	go watcher.Run(ctx)

	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(version, q, sched, jnl,
			log.With().Str("component", "admin").Logger())
		go func() {
			if err := adminSrv.ListenAndServe(ctx, cfg.Admin.Addr); err != nil {
				log.Error().Err(err).Msg("admin listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sched.State() == scheduler.StateShuttingDown || sched.State() == scheduler.StateTerminated {
					log.Warn().Str("signal", sig.String()).Msg("second signal, aborting drain")
					cancel()
					return
				}
				log.Info().Str("signal", sig.String()).Msg("termination signal, draining")
				sched.Shutdown()
			}
		}
	}()

	// A version update drains the queue and then asks for a restart; the
	// process manager is expected to bring the new binary up.
	go func() {
		select {
		case <-ctx.Done():
		case <-watcher.Restart():
			log.Info().Msg("drained for version update, shutting down")
			sched.Shutdown()
		}
	}()

	return sched.Run(ctx)
}
