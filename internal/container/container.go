package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/config"
	"github.com/anime-shed/pattern-inspector-go/internal/factory"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/observer"
	"github.com/anime-shed/pattern-inspector-go/internal/queue"
	"github.com/anime-shed/pattern-inspector-go/internal/repository"
	"github.com/anime-shed/pattern-inspector-go/internal/service"
	"github.com/anime-shed/pattern-inspector-go/internal/storage"
	"github.com/anime-shed/pattern-inspector-go/internal/transport"
	"github.com/anime-shed/pattern-inspector-go/pkg/validation"
)

const (
	jobsTable        = "recognition_jobs"
	infraPingTimeout = 5 * time.Second
	indexTimeout     = 10 * time.Second
)

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	adapter   *adapter.LibraryAdapter
	publisher *observer.EventPublisher
	metrics   *observer.MetricsObserver
	service   *service.RecognitionService
	boundary  *service.Boundary
	sources   repository.SourceRepository
	records   repository.RecordRepository
	producer  *queue.Producer
	closers   []func() error
}

// NewContainer builds the dependency graph. Redis, Postgres, Qdrant and
// Azure are optional: a missing setting or an unreachable server disables
// the feature that needs it and is logged.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger.SetLevel(cfg.LogLevel)

	c := &Container{config: cfg}
	components := factory.NewComponentFactory(cfg)

	c.adapter = adapter.New(adapter.OptionsFromConfig(cfg.Pipeline()))
	c.closers = append(c.closers, c.adapter.Dispose)

	c.publisher = observer.NewEventPublisher()
	c.metrics = observer.NewMetricsObserver()
	c.publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	c.publisher.Subscribe(c.metrics)

	c.sources = repository.NewSourceRepository(validation.NewURLValidator(), components.StorageFactory.Fetchers())

	var boundaryOptions []service.BoundaryOption
	boundaryOptions = append(boundaryOptions, service.WithEvents(c.publisher))

	if cfg.QdrantAddress != "" {
		index, err := storage.NewQdrantFeatureIndex(cfg.QdrantAddress, cfg.QdrantCollection)
		if err != nil {
			logger.WithError(err).Warn("Feature index unavailable, similar-pattern search disabled")
		} else {
			c.closers = append(c.closers, index.Close)
			c.publisher.Subscribe(observer.NewIndexingObserver(index, indexTimeout))
			boundaryOptions = append(boundaryOptions, service.WithSearch(index))
		}
	}

	if cfg.RedisURL != "" {
		cache, err := storage.NewRedisResultCache(cfg.RedisURL, cfg.CacheTTL)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, infraPingTimeout)
			err = cache.Ping(pingCtx)
			cancel()
			if err != nil {
				cache.Close()
			}
		}
		if err != nil {
			logger.WithError(err).Warn("Result cache unavailable, caching disabled")
		} else {
			c.closers = append(c.closers, cache.Close)
			boundaryOptions = append(boundaryOptions, service.WithCache(cache))
		}
	}

	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresResultStore(ctx, cfg.DatabaseURL, jobsTable)
		if err != nil {
			logger.WithError(err).Warn("Job store unavailable, job results will not be persisted")
		} else {
			c.closers = append(c.closers, store.Close)
			c.records = store
		}
	}

	if cfg.RedisURL != "" {
		producer, err := queue.NewProducer(cfg.RedisURL, cfg.QueueName, c.records, c.sources.ValidateSourceURL)
		if err != nil {
			logger.WithError(err).Warn("Job queue unavailable, asynchronous jobs disabled")
		} else {
			c.closers = append(c.closers, producer.Close)
			c.producer = producer
		}
	}

	stages := components.StageFactory
	c.service = service.NewRecognitionService(stages.CreateStages(c.adapter, c.publisher), stages.ServiceOptions())
	c.boundary = service.NewBoundary(c.service, c.sources, service.BoundaryOptions{
		Timeout:      cfg.RecognitionTimeout,
		FetchTimeout: cfg.SourceFetchTimeout,
	}, boundaryOptions...)

	logger.WithFields(logrus.Fields{
		"backends": c.adapter.Backends(),
		"jobs":     c.producer != nil,
		"records":  c.records != nil,
	}).Info("Container initialized")
	return c, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	deps := transport.Dependencies{
		Boundary: c.boundary,
		Metrics:  c.metrics,
		Backends: c.adapter.Backends,
		Records:  c.records,
	}
	if c.producer != nil {
		deps.Jobs = c.producer
	}
	return transport.NewHandler(deps, c.config)
}

// JobHandler returns the asynq task handler the worker runs.
func (c *Container) JobHandler() *queue.Handler {
	return queue.NewHandler(c.boundary, c.records, c.config.RecognitionTimeout+c.config.SourceFetchTimeout)
}

// Boundary returns the recognition façade
func (c *Container) Boundary() *service.Boundary {
	return c.boundary
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close flushes pending events and releases every resource in reverse
// order of acquisition.
func (c *Container) Close() error {
	c.publisher.Wait()
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
