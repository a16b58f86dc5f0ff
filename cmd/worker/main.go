package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anime-shed/pattern-inspector-go/internal/config"
	"github.com/anime-shed/pattern-inspector-go/internal/container"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required to run the worker")
	}

	c, err := container.NewContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.WithError(err).Error("Failed to release resources")
		}
	}()

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		RedisURL:        cfg.RedisURL,
		QueueName:       cfg.QueueName,
		Concurrency:     cfg.WorkerConcurrency,
		Handler:         c.JobHandler(),
		ShutdownTimeout: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}

	if err := consumer.Start(); err != nil {
		logger.WithError(err).Error("Failed to start consumer")
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	consumer.Shutdown()
	logger.Info("Worker exited")
}
