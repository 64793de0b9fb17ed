package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqpconsumer "your.org/whatsmeow-buttons/internal/amqp"
	"your.org/whatsmeow-buttons/internal/broker"
	"your.org/whatsmeow-buttons/internal/config"
	httpserver "your.org/whatsmeow-buttons/internal/http"
	ilog "your.org/whatsmeow-buttons/internal/log"
	"your.org/whatsmeow-buttons/internal/provider"
	"your.org/whatsmeow-buttons/internal/status"
	"your.org/whatsmeow-buttons/internal/version"
)

const shutdownTimeout = 15 * time.Second

// main wires configuration, the session manager, the AMQP consumer and the
// HTTP API, and shuts them down on SIGINT or SIGTERM.
func main() {
	cfg := config.NewConfig()
	ilog.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	info := version.Info()
	ilog.Infof("%s %s starting", info.Name, info.Version)

	// no-op without REDIS_URL
	status.Init(cfg.RedisURL)
	defer status.Close()

	clientManager := provider.NewClientManager(cfg)

	// Webhooks go to the broker when a webhook exchange is configured,
	// otherwise they are POSTed to WEBHOOK_BASE.
	if cfg.AMQPURL != "" && cfg.AMQPWebhookExchange != "" {
		if err := broker.InitWebhookPublisher(cfg); err != nil {
			ilog.Warnf("AMQP webhook publisher not ready, will retry on first publish: %v", err)
		}
		clientManager.SetWebhookPublisher(broker.PublishWebhook)
		defer broker.Close()
	}

	if restored, err := clientManager.RestoreSavedSessions(); err != nil {
		ilog.Errorf("failed to restore saved sessions: %v", err)
	} else if len(restored) > 0 {
		ilog.Infof("restoring %d saved session(s): %v", len(restored), restored)
	} else {
		ilog.Infof("no saved sessions to restore")
	}

	// Declare the exchange and durable queue up front so publishers can
	// enqueue while the adapter is offline.
	if err := amqpconsumer.InitExchange(cfg); err != nil {
		ilog.Errorf("failed to initialize AMQP exchange: %v", err)
		os.Exit(1)
	}

	consumer, err := amqpconsumer.NewConsumer(cfg, clientManager)
	if err != nil {
		ilog.Errorf("failed to initialise AMQP consumer: %v", err)
		os.Exit(1)
	}

	srv := httpserver.NewServer(cfg, clientManager)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			ilog.Errorf("AMQP consumer stopped: %v", err)
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			ilog.Errorf("HTTP server stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	ilog.Infof("Shutting down…")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		ilog.Errorf("failed to shutdown HTTP server: %v", err)
	}
}
