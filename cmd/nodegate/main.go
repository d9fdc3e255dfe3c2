package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nodegate/nodegate-go/internal/httpapi"
	"github.com/nodegate/nodegate-go/internal/logging"
	"github.com/nodegate/nodegate-go/internal/noderegistry"
	internalsync "github.com/nodegate/nodegate-go/internal/nodesync"
	"github.com/nodegate/nodegate-go/internal/wsgateway"
	"github.com/nodegate/nodegate-go/pkg/config"
)

const (
	appName    = "nodegate"
	appVersion = "0.1.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to yaml config file")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Gateway.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting gateway",
		zap.String("version", appVersion),
		zap.String("listenAddr", cfg.Gateway.ListenAddr))

	regCfg := noderegistry.NewConfig()
	regCfg.DefaultInvokeTimeout = cfg.Invoke.DefaultTimeout
	registry, err := noderegistry.New(regCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}

	// The shared store is optional. Without it the gateway runs single-pod
	// and only serves its own connections.
	var redisSync *internalsync.RedisSync
	syncOn := cfg.Store.URL != ""
	podID := cfg.Gateway.PodID
	if syncOn {
		syncCfg := internalsync.RedisConfig{
			PodID:     cfg.Gateway.PodID,
			URL:       cfg.Store.URL,
			KeyPrefix: cfg.Store.KeyPrefix,
			NodeTTL:   cfg.Store.NodeTTL,
		}
		redisSync, err = internalsync.NewRedisSync(&syncCfg, log)
		if err != nil {
			return fmt.Errorf("failed to create store sync: %w", err)
		}
		// Handlers must be installed before Start; invokes routed here in
		// between would be dropped.
		registry.SetSync(redisSync)
		startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = redisSync.Start(startCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to start store sync: %w", err)
		}
		podID = redisSync.PodID()
		log.Info("store sync attached", zap.String("podId", podID))
	}

	ws := wsgateway.NewServer(wsgateway.Config{
		SessionURLBase: cfg.Gateway.SessionURLBase,
	}, registry, log)
	ws.SetEventSink(func(nodeID, event string, data json.RawMessage) {
		log.Info("node event",
			zap.String("nodeId", nodeID),
			zap.String("event", event))
	})

	api := httpapi.NewServer(registry, httpapi.Config{
		ListenAddr: cfg.Gateway.ListenAddr,
		SecretKey:  cfg.HTTP.SecretKey,
		AdminToken: cfg.HTTP.AdminToken,
		PodID:      podID,
		SyncOn:     syncOn,
	}, map[string]http.HandlerFunc{
		"/v1/node":   ws.HandleNode,
		"/v1/tunnel": ws.HandleTunnel,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("gateway started", zap.String("listenAddr", cfg.Gateway.ListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	// Stop accepting work, then tear down inside-out: presence leaves the
	// shared store before the registry rejects its pending invokes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn("http shutdown error", zap.Error(err))
	}
	if redisSync != nil {
		if err := redisSync.Close(shutdownCtx); err != nil {
			log.Warn("store sync close error", zap.Error(err))
		}
	}
	if err := registry.Close(); err != nil {
		log.Warn("registry close error", zap.Error(err))
	}

	log.Info("gateway stopped")
	return nil
}
