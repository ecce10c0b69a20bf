package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/djinnbot/djinnbot/internal/api"
	"github.com/djinnbot/djinnbot/internal/config"
	"github.com/djinnbot/djinnbot/internal/dispatch"
	"github.com/djinnbot/djinnbot/internal/engine"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/githubapp"
	"github.com/djinnbot/djinnbot/internal/graph"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/pulse"
	"github.com/djinnbot/djinnbot/internal/store"
	"github.com/djinnbot/djinnbot/internal/swarm"
	"github.com/djinnbot/djinnbot/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server",
	Long: `Start the djinnbot server: the REST API, the pulse scheduler, and the
event bus wiring towards the worker pool.

Examples:
  # Start with defaults (0.0.0.0:8080, in-memory bus)
  djinnbot serve

  # Start against Redis on a custom port
  DJINNBOT_REDIS_ADDR=localhost:6379 djinnbot serve --port 3000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on (overrides config)")
}

// busKV is the combined surface both bus implementations satisfy.
type busKV interface {
	events.Bus
	events.KV
}

func runServe(_ *cobra.Command, _ []string) error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var bus busKV
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		bus = events.NewRedisBus(client)
		logger.Info("event bus connected", "addr", cfg.Redis.Addr)
	} else {
		bus = events.NewMemoryBus()
		logger.Warn("redis.addr not set, using in-memory event bus")
	}

	var github workspace.GitHub
	if cfg.GitHubApp.Enabled() {
		keyPEM, err := os.ReadFile(cfg.GitHubApp.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("reading github app key: %w", err)
		}
		client, err := githubapp.New(cfg.GitHubApp.AppID, keyPEM)
		if err != nil {
			return fmt.Errorf("configuring github app: %w", err)
		}
		github = client
		logger.Info("github app configured", "app_id", cfg.GitHubApp.AppID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(st, bus, logger)
	dispatcher := dispatch.New(st, bus, logger, nil, eng.Propagator())
	workspaces := workspace.NewManager(st, bus, bus, logger,
		cfg.Workspace.WorkspacesDir, github, cfg.Workspace.GitHubToken)
	scheduler := pulse.New(st, bus, logger, pulse.StaticAgents(cfg.Pulse.Agents))
	eng.SetWaker(scheduler)
	if cfg.Pulse.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting pulse scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	server := api.NewServer(
		st,
		eng,
		graph.NewService(st, logger),
		dispatcher,
		workspaces,
		scheduler,
		swarm.New(st, bus, logger),
		api.WithLogger(logger),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
