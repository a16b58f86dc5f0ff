// Package adapter gives the pipeline stages access to vision, inference and
// document capabilities. Each capability prefers an accelerated native
// backend and falls back to an in-process reference backend.
package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/config"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
)

// Options configures backend selection and resource locations.
type Options struct {
	ModelRoot          string
	VisionDataRoot     string
	RendererWorkerPath string
	RuntimeLibPath     string
	UseGPU             bool
	MemoryCeilingMB    int64
	// VisionBackend is auto, accelerated or reference
	VisionBackend string
}

func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		ModelRoot:          cfg.ModelRoot,
		VisionDataRoot:     cfg.VisionDataRoot,
		RendererWorkerPath: cfg.RendererWorkerPath,
		RuntimeLibPath:     cfg.RuntimeLibPath,
		UseGPU:             cfg.UseGPU,
		MemoryCeilingMB:    cfg.MemoryCeilingMB,
		VisionBackend:      cfg.VisionBackend,
	}
}

// Option overrides a capability, mostly for tests.
type Option func(*LibraryAdapter)

func WithVision(v VisionOps) Option {
	return func(a *LibraryAdapter) {
		a.vision.init = func() (VisionOps, error) { return v, nil }
	}
}

func WithTensor(t TensorInference) Option {
	return func(a *LibraryAdapter) {
		a.tensor.init = func() (TensorInference, error) { return t, nil }
	}
}

func WithDocument(d DocumentRender) Option {
	return func(a *LibraryAdapter) {
		a.document.init = func() (DocumentRender, error) { return d, nil }
	}
}

// LibraryAdapter owns the capabilities. It is created once and injected into
// every stage; after Dispose all capabilities report
// ErrAdapterNotInitialized.
type LibraryAdapter struct {
	opts     Options
	disposed atomic.Bool

	vision   *capability[VisionOps]
	tensor   *capability[TensorInference]
	document *capability[DocumentRender]
	models   *modelCache
}

func New(opts Options, options ...Option) *LibraryAdapter {
	a := &LibraryAdapter{opts: opts}
	a.vision = &capability[VisionOps]{name: "vision", init: a.initVision}
	a.tensor = &capability[TensorInference]{name: "tensor", init: a.initTensor, close: func(t TensorInference) error { return t.Close() }}
	a.document = &capability[DocumentRender]{name: "document", init: a.initDocument}
	a.models = newModelCache(a.loadModel)

	for _, o := range options {
		o(a)
	}
	return a
}

func (a *LibraryAdapter) ready() error {
	if a.disposed.Load() {
		return apperrors.ErrAdapterNotInitialized
	}
	return nil
}

// Vision returns the vision capability, initializing it on first use.
func (a *LibraryAdapter) Vision() (VisionOps, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.vision.get()
}

func (a *LibraryAdapter) Tensor() (TensorInference, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.tensor.get()
}

func (a *LibraryAdapter) Document() (DocumentRender, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.document.get()
}

// LoadModel returns the cached model for id, loading it on first use.
func (a *LibraryAdapter) LoadModel(ctx context.Context, id string) (Model, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.models.Get(ctx, id)
}

// ModelLoads reports how many models were loaded since construction.
func (a *LibraryAdapter) ModelLoads() int64 {
	return a.models.Loads()
}

// Backends names the active backend per capability; uninitialized
// capabilities are omitted.
func (a *LibraryAdapter) Backends() map[string]string {
	out := make(map[string]string, 3)
	if v, ok := a.vision.peek(); ok {
		out["vision"] = v.Name()
	}
	if t, ok := a.tensor.peek(); ok {
		out["tensor"] = t.Name()
	}
	if d, ok := a.document.peek(); ok {
		out["document"] = d.Name()
	}
	return out
}

// Dispose releases cached models and capability handles. It is safe to call
// more than once.
func (a *LibraryAdapter) Dispose() error {
	if a.disposed.Swap(true) {
		return nil
	}
	err := errors.Join(
		a.models.Close(),
		a.vision.reset(),
		a.tensor.reset(),
		a.document.reset(),
	)
	logger.Info("Library adapter disposed")
	return err
}

func (a *LibraryAdapter) loadModel(ctx context.Context, id string) (Model, error) {
	spec, err := ResolveModelSpec(a.opts.ModelRoot, id)
	if err != nil {
		return nil, err
	}
	t, err := a.Tensor()
	if err != nil {
		return nil, err
	}
	m, err := t.Load(ctx, spec)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"model": id, "backend": t.Name()}).Info("Model loaded")
	return m, nil
}

func (a *LibraryAdapter) initVision() (VisionOps, error) {
	reference := NewReferenceVision()
	if a.opts.VisionBackend == "reference" {
		return newResilientVision(nil, reference, a.ready), nil
	}
	accelerated, err := newAcceleratedVision()
	if err != nil {
		entry := logger.WithError(err).WithField("backend", a.opts.VisionBackend)
		if a.opts.VisionBackend == "accelerated" {
			entry.Warn("Accelerated vision backend requested but unavailable, using reference backend")
		} else {
			entry.Info("Using reference vision backend")
		}
		return newResilientVision(nil, reference, a.ready), nil
	}
	return newResilientVision(accelerated, reference, a.ready), nil
}

func (a *LibraryAdapter) initTensor() (TensorInference, error) {
	reference := NewReferenceTensor()
	accelerated, err := newAcceleratedTensor(a.opts)
	if err != nil {
		logger.WithError(err).Info("Using reference inference backend")
		return newResilientTensor(nil, reference), nil
	}
	return newResilientTensor(accelerated, reference), nil
}

func (a *LibraryAdapter) initDocument() (DocumentRender, error) {
	ocr, err := newTextRecognizer(a.opts)
	if err != nil {
		logger.WithError(err).Warn("OCR unavailable, scanned pages will have no text")
	}
	return newPDFRender(a.opts, ocr), nil
}

// capability lazily initializes one backend and can be reset on disposal.
type capability[T any] struct {
	name  string
	mu    sync.Mutex
	value T
	ok    bool
	init  func() (T, error)
	close func(T) error
}

func (c *capability[T]) get() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok {
		return c.value, nil
	}
	v, err := c.init()
	if err != nil {
		var zero T
		return zero, apperrors.NewAdapterNotReadyError(c.name+" capability failed to initialize", err)
	}
	c.value, c.ok = v, true
	return v, nil
}

func (c *capability[T]) peek() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.ok
}

func (c *capability[T]) reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok {
		return nil
	}
	var err error
	if c.close != nil {
		err = c.close(c.value)
	}
	var zero T
	c.value, c.ok = zero, false
	return err
}
