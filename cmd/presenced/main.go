package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/auth"
	"github.com/veilchat/presence/internal/cli"
	"github.com/veilchat/presence/internal/config"
	"github.com/veilchat/presence/internal/contacts"
	httpapi "github.com/veilchat/presence/internal/http"
	"github.com/veilchat/presence/internal/metrics"
	"github.com/veilchat/presence/internal/presence"
	"github.com/veilchat/presence/internal/registry"
	"github.com/veilchat/presence/internal/server"
	"github.com/veilchat/presence/internal/storage/sqlite"
	"github.com/veilchat/presence/internal/ws"
)

func main() {
	root := &cobra.Command{
		Use:           "presenced",
		Short:         "Presence reconciliation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), initCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with a generated JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.InitConfigFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s (listening on %s)\n", path, cfg.Addr)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "presenced.yaml", "config file path")
	return cmd
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the presence engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "presenced.yaml", "config file path")
	return cmd
}

func serve(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	logger.Info("connected to redis", zap.String("url", cfg.RedisURL))

	db, err := sqlite.New(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	store := sqlite.NewResilient(db)

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	presenceStore := presence.NewRedisStore(redisClient, presence.RedisConfig{
		TTL:              cfg.PresenceTTL,
		OfflineRetention: cfg.OfflineRetention,
		ContactTTL:       cfg.ContactCacheTTL,
	}, logger)

	reg := registry.New()
	graph := contacts.NewGraph(store, presenceStore, logger)
	hub := ws.NewHub()
	engine := presence.NewEngine(presence.EngineConfig{
		GraceWindow:  cfg.GraceWindow,
		StaleTimeout: cfg.StaleTimeout,
	}, reg, presenceStore, store, graph, hub, logger).
		WithConnCloser(hub).
		WithMetrics(m)
	defer engine.Close()

	gateway := ws.NewGateway(engine, hub, cfg.HeartbeatInterval, logger)

	sweeper := presence.NewSweeper(engine, cfg.SweepInterval, logger)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	router := httpapi.NewRouter(
		httpapi.NewService(engine, graph, logger),
		gateway.Handler(),
		promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		auth.Middleware(cfg.JWTSecret),
	)

	srv, err := server.New(server.Config{Addr: cfg.Addr, Handler: router})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("presenced listening", zap.String("addr", cfg.Addr))
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := db.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("close redis", zap.Error(err))
	}
	return nil
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
