package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinyland-inc/picobridge/pkg/admin"
	"github.com/tinyland-inc/picobridge/pkg/bridge"
	"github.com/tinyland-inc/picobridge/pkg/channels"
	"github.com/tinyland-inc/picobridge/pkg/config"
	"github.com/tinyland-inc/picobridge/pkg/events"
	"github.com/tinyland-inc/picobridge/pkg/logger"
)

func runCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	sink := buildSink(cfg)
	defer sink.Close()

	dedup, err := buildDedupStore(cfg)
	if err != nil {
		return err
	}

	mappings, closeMappings, err := buildMappingStore(cfg)
	if err != nil {
		return err
	}
	defer closeMappings()

	pairStore := admin.NewPairStore(cfg.PairsFile)
	pairs, err := pairStore.Initialize(cfg.BridgePairs)
	if err != nil {
		return fmt.Errorf("error initializing bridge pairs: %w", err)
	}

	svc := bridge.NewService(cfg.Rules(), dedup, mappings, sink)
	svc.UpdatePairs(pairs)
	fmt.Printf("✓ Bridge pairs loaded: %d\n", len(pairs))

	telegram, err := channels.NewTelegramChannel(cfg.TelegramBotToken, svc, sink)
	if err != nil {
		return fmt.Errorf("error creating telegram channel: %w", err)
	}
	discord, err := channels.NewDiscordChannel(cfg.DiscordBotToken, svc, sink)
	if err != nil {
		return fmt.Errorf("error creating discord channel: %w", err)
	}
	svc.SetTelegramSender(telegram)
	svc.SetDiscordSender(discord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, ch := range []channels.Channel{telegram, discord} {
		go func(ch channels.Channel) {
			if err := ch.Start(ctx); err != nil {
				logger.ErrorCF(ch.Name(), "Channel stopped with error", map[string]any{"error": err.Error()})
			}
		}(ch)
	}
	fmt.Println("✓ Telegram and Discord channels starting")

	var adminServer *admin.Server
	if cfg.AdminListenAddr != "" {
		adminServer = admin.NewServer(cfg.AdminListenAddr, pairStore, svc, cfg.AdminToken)
		go func() {
			if err := adminServer.ListenAndServe(); err != nil {
				logger.ErrorCF("admin", "Admin server error", map[string]any{"error": err.Error()})
			}
		}()
		fmt.Printf("✓ Admin API on %s\n", cfg.AdminListenAddr)
	}

	go heartbeatLoop(ctx, cfg.HeartbeatInterval, sink, svc, telegram, discord)

	sink.Emit(ctx, events.Event{Name: events.BridgeStarted, Fields: map[string]any{"pairs": len(pairs)}})
	fmt.Println("✓ Bridge started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	svc.Shutdown()
	cancel()
	if adminServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		adminServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	telegram.Stop(context.Background())
	discord.Stop(context.Background())
	sink.Emit(context.Background(), events.Event{Name: events.BridgeStopped})
	fmt.Println("✓ Bridge stopped")

	return nil
}

// buildSink always logs events; AMQP publishing is layered on when
// configured. A broken AMQP endpoint degrades to log-only.
func buildSink(cfg *config.Config) events.Sink {
	sinks := events.MultiSink{events.LoggerSink{}}
	if cfg.EventsAMQPURL != "" {
		amqpSink, err := events.NewAMQPSink(cfg.EventsAMQPURL, cfg.EventsExchange)
		if err != nil {
			logger.WarnCF("events", "AMQP sink unavailable, continuing with log-only events", map[string]any{"error": err.Error()})
		} else {
			sinks = append(sinks, amqpSink)
			fmt.Printf("✓ Event publishing to %s\n", cfg.EventsExchange)
		}
	}
	return sinks
}

func buildDedupStore(cfg *config.Config) (bridge.DedupStore, error) {
	stores := []bridge.DedupStore{bridge.NewMemoryDedupStore(cfg.DedupTTL)}
	if cfg.DedupRedisURL != "" {
		client, err := redisClient(cfg.DedupRedisURL)
		if err != nil {
			return nil, fmt.Errorf("error configuring dedup redis: %w", err)
		}
		stores = append(stores, bridge.NewRedisDedupStore(client, cfg.DedupTTL, ""))
		fmt.Println("✓ Redis dedup tier enabled")
	}
	if len(stores) == 1 {
		return stores[0], nil
	}
	return bridge.NewCompositeDedupStore(stores...), nil
}

func buildMappingStore(cfg *config.Config) (bridge.ForwardMappingStore, func(), error) {
	stores := []bridge.ForwardMappingStore{bridge.NewMemoryMappingStore(cfg.MappingTTL, cfg.MappingMaxItems)}
	closeFn := func() {}

	if cfg.MappingDBPath != "" {
		sqlite := bridge.NewSQLiteMappingStore(cfg.MappingDBPath, cfg.MappingMaxItems)
		stores = append(stores, sqlite)
		closeFn = func() { sqlite.Close() }
		fmt.Printf("✓ SQLite mapping tier at %s\n", cfg.MappingDBPath)
	}
	if cfg.MappingRedisURL != "" {
		client, err := redisClient(cfg.MappingRedisURL)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("error configuring mapping redis: %w", err)
		}
		stores = append(stores, bridge.NewRedisMappingStore(client, cfg.MappingTTL, ""))
		fmt.Println("✓ Redis mapping tier enabled")
	}

	if len(stores) == 1 {
		return stores[0], closeFn, nil
	}
	return bridge.NewCompositeMappingStore(stores...), closeFn, nil
}

func redisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// heartbeatLoop emits a periodic liveness event with channel state.
func heartbeatLoop(ctx context.Context, interval time.Duration, sink events.Sink, svc *bridge.Service, telegram, discord channels.Channel) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.Emit(ctx, events.Event{Name: events.Heartbeat, Fields: map[string]any{
				"pairs":            len(svc.Pairs()),
				"telegram_running": telegram.IsRunning(),
				"discord_running":  discord.IsRunning(),
			}})
		}
	}
}
