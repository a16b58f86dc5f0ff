// Package observer publishes recognition pipeline events to logging,
// metrics and feature-indexing observers.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineEvent represents an event in the recognition pipeline
type PipelineEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	RequestID      string                 `json:"request_id"`
	Source         string                 `json:"source,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	// Features is set on FeaturesExtracted events
	Features []float32 `json:"-"`
}

// EventType represents the type of pipeline event
type EventType string

const (
	RecognitionStarted   EventType = "recognition_started"
	RecognitionCompleted EventType = "recognition_completed"
	RecognitionFailed    EventType = "recognition_failed"
	EnhancementApplied   EventType = "enhancement_applied"
	FeaturesExtracted    EventType = "features_extracted"
	RegionsExtracted     EventType = "regions_extracted"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PipelineEvent)
	GetObserverName() string
}

// Subject defines the interface for event subjects
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PipelineEvent)
}

// LoggingObserver logs pipeline events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles pipeline events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event PipelineEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"request_id":      event.RequestID,
		"processing_time": event.ProcessingTime,
		"success":         event.Success,
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case RecognitionStarted:
		entry.Info("Recognition started")
	case RecognitionCompleted:
		entry.Info("Recognition completed")
	case RecognitionFailed:
		entry.Error("Recognition failed")
	case EnhancementApplied:
		entry.Debug("Enhancement applied")
	case FeaturesExtracted:
		entry.Debug("Features extracted")
	case RegionsExtracted:
		entry.Info("Document regions extracted")
	default:
		entry.Info("Pipeline event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from pipeline events
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalRecognitions   int64
	completed           int64
	failed              int64
	degraded            int64
	enhanced            int64
	documents           int64
	regionsExtracted    int64
	totalProcessingTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles pipeline events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event PipelineEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case RecognitionStarted:
		o.totalRecognitions++
	case RecognitionCompleted:
		o.completed++
		o.totalProcessingTime += event.ProcessingTime
		if d, ok := event.Metadata["degraded"].(bool); ok && d {
			o.degraded++
		}
	case RecognitionFailed:
		o.failed++
	case EnhancementApplied:
		o.enhanced++
	case RegionsExtracted:
		o.documents++
		if n, ok := event.Metadata["images"].(int); ok {
			o.regionsExtracted += int64(n)
		}
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.completed > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.completed)
	}

	return map[string]interface{}{
		"total_recognitions":     o.totalRecognitions,
		"completed_recognitions": o.completed,
		"failed_recognitions":    o.failed,
		"degraded_results":       o.degraded,
		"enhancements_applied":   o.enhanced,
		"documents_processed":    o.documents,
		"regions_extracted":      o.regionsExtracted,
		"avg_processing_time_ms": avgProcessingTime.Milliseconds(),
	}
}

// FeatureIndexer stores feature vectors for similarity search.
// *storage.QdrantFeatureIndex implements it.
type FeatureIndexer interface {
	Index(ctx context.Context, id string, vector []float32, payload map[string]interface{}) error
}

// IndexingObserver writes the vectors of FeaturesExtracted events to a
// FeatureIndexer.
type IndexingObserver struct {
	index FeatureIndexer
	// Timeout bounds a single write
	timeout time.Duration
}

func NewIndexingObserver(index FeatureIndexer, timeout time.Duration) *IndexingObserver {
	return &IndexingObserver{index: index, timeout: timeout}
}

func (o *IndexingObserver) OnEvent(ctx context.Context, event PipelineEvent) {
	if event.EventType != FeaturesExtracted || len(event.Features) == 0 {
		return
	}
	// the request may finish before the write does
	ctx = context.WithoutCancel(ctx)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	payload := map[string]interface{}{"request_id": event.RequestID}
	if event.Source != "" {
		payload["source"] = event.Source
	}
	for k, v := range event.Metadata {
		payload[k] = v
	}
	id, _ := event.Metadata["point_id"].(string)
	if err := o.index.Index(ctx, id, event.Features, payload); err != nil {
		logrus.WithError(err).WithField("request_id", event.RequestID).
			Warn("Failed to index feature vector")
	}
}

func (o *IndexingObserver) GetObserverName() string {
	return "indexing_observer"
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	inflight  sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PipelineEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	// Notify observers concurrently
	for _, observer := range observers {
		p.inflight.Add(1)
		go func(obs Observer) {
			defer p.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					// Log panic but don't crash the application
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Wait blocks until every notification sent so far has been handled.
func (p *EventPublisher) Wait() {
	p.inflight.Wait()
}
