package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd-25/Meetup/internal/auth"
	"github.com/dd-25/Meetup/internal/bus"
	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/internal/gateway"
	"github.com/dd-25/Meetup/internal/ingest"
	"github.com/dd-25/Meetup/internal/media/pionengine"
	"github.com/dd-25/Meetup/internal/presence"
	"github.com/dd-25/Meetup/internal/sfu"
	"github.com/dd-25/Meetup/internal/signaling"
	"github.com/dd-25/Meetup/internal/storage"
	"github.com/dd-25/Meetup/pkg/log"
)

func main() {
	if err := run(); err != nil {
		log.L().Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting server")

	// Presence store.
	var store presence.Store
	var queue ingest.Queue
	switch cfg.Presence.Driver {
	case "memory":
		mem := presence.NewMemoryStore()
		store, queue = mem, mem
		logger.Info().Msg("using in-memory presence store")
	default:
		redisStore, err := presence.NewRedisStore(cfg.Presence.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		store, queue = redisStore, redisStore
		logger.Info().Str("address", cfg.Presence.Redis.Address).Msg("connected to redis")
	}
	defer store.Close()

	// Durable chat storage.
	sink, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open chat storage: %w", err)
	}
	defer sink.Close()
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("chat storage ready")

	// Media engine must be usable before any signaling is served.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := pionengine.New(cfg.Media)
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize media engine: %w", err)
	}
	defer engine.Close()
	logger.Info().Msg("media engine initialized")

	registry := sfu.NewRegistry(engine, store, cfg.Registry)
	defer registry.Close()

	pipeline := ingest.NewPipeline(queue, sink, cfg.Batch)

	hub := gateway.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Message bus.
	producer, err := bus.NewProducer(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	defer producer.Close()

	dispatcher := bus.NewDispatcher(hub, pipeline)
	consumer, err := bus.NewConsumer(cfg.Kafka, dispatcher)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	defer consumer.Close()

	// Services and HTTP surface.
	chatSvc := chat.NewService(producer)
	verifier := auth.NewVerifier(cfg.Auth.Secret)
	session := signaling.NewSession(registry, store, hub)
	ws := gateway.NewWSHandler(hub, session, chatSvc)
	router := gateway.Router(verifier, ws, pipeline)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		registry.RunEvictor(gctx)
		return nil
	})

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-engine.Done():
			return fmt.Errorf("media engine lost: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Flush whatever the batch pipeline still holds before the process dies.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	if drainErr := pipeline.Drain(drainCtx); drainErr != nil {
		logger.Error().Err(drainErr).Msg("failed to drain batch pipeline")
	}
	pipeline.Stop()

	if err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
