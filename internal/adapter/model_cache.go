package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
)

// modelCache loads each model id at most once. Concurrent first requests for
// the same id share one load.
type modelCache struct {
	mu     sync.RWMutex
	models map[string]*cachedModel
	closed bool
	group  singleflight.Group
	loads  atomic.Int64
	load   func(ctx context.Context, id string) (Model, error)
}

func newModelCache(load func(ctx context.Context, id string) (Model, error)) *modelCache {
	return &modelCache{
		models: make(map[string]*cachedModel),
		load:   load,
	}
}

func (c *modelCache) lookup(id string) (*cachedModel, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, apperrors.ErrAdapterNotInitialized
	}
	m, ok := c.models[id]
	return m, ok, nil
}

func (c *modelCache) Get(ctx context.Context, id string) (Model, error) {
	if m, ok, err := c.lookup(id); err != nil || ok {
		return m, err
	}

	// The shared load outlives any single caller; each caller still
	// stops waiting when its own context ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (interface{}, error) {
		if m, ok, err := c.lookup(id); err != nil || ok {
			return m, err
		}

		inner, err := c.load(loadCtx, id)
		if err != nil {
			return nil, err
		}
		c.loads.Add(1)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			_ = inner.Close()
			return nil, apperrors.ErrAdapterNotInitialized
		}
		m := &cachedModel{inner: inner}
		c.models[id] = m
		return m, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cachedModel), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loads reports how many models were actually loaded.
func (c *modelCache) Loads() int64 {
	return c.loads.Load()
}

func (c *modelCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var errs []error
	for id, m := range c.models {
		errs = append(errs, m.close())
		delete(c.models, id)
	}
	return errors.Join(errs...)
}

// cachedModel guards a model handle so runs never touch a released session.
type cachedModel struct {
	mu     sync.RWMutex
	inner  Model
	closed bool
}

func (m *cachedModel) ID() string       { return m.inner.ID() }
func (m *cachedModel) Labels() []string { return m.inner.Labels() }

// Close is a no-op; handles are released when the adapter is disposed.
func (m *cachedModel) Close() error { return nil }

func (m *cachedModel) Run(ctx context.Context, inputs []NamedTensor) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, apperrors.ErrAdapterNotInitialized
	}
	return m.inner.Run(ctx, inputs)
}

func (m *cachedModel) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.inner.Close()
}
