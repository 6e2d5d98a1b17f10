package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wa-bot-go/internal/api"
	"wa-bot-go/internal/api/websocket"
	"wa-bot-go/internal/bot"
	"wa-bot-go/internal/config"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/notify"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Initializing WhatsApp bot",
		"driver", cfg.Driver,
		"store", cfg.StoreDriver,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := bot.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	launcher, blobs, err := bot.NewLauncher(cfg)
	if err != nil {
		logger.Error("Failed to create automation driver", "error", err)
		os.Exit(1)
	}

	hub := websocket.NewHub(cfg.AllowedDomains)
	go hub.Run(ctx)

	notifiers := notify.Multi{hub}
	if cfg.AMQPURL != "" {
		mq, err := notify.NewRabbitMQ(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, events stay local", "error", err)
		} else {
			defer mq.Close()
			notifiers = append(notifiers, mq)
		}
	}

	b := bot.New(cfg, launcher, st, blobs, notifiers)
	if err := b.Restore(ctx); err != nil {
		logger.Warn("Failed to restore connection state", "error", err)
	}

	if cfg.AutoConnect {
		go func() {
			resp := b.Dispatcher.Connect(context.WithoutCancel(ctx))
			logger.Info("Auto connect finished", "success", resp.Success, "message", resp.Message)
		}()
	}

	server := api.NewServer(cfg, b, hub)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	b.Close()
	logger.Info("Cleanup complete")
}
