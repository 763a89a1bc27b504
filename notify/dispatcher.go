package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderStats is a point-in-time snapshot of per-provider delivery
// counters maintained by the dispatcher.
type ProviderStats struct {
	Attempts       int64   `json:"attempts"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	AverageLatency float64 `json:"average_latency_ms"`
}

// Dispatcher owns the provider registry and the dispatch pipeline:
// validate provider config, interpolate the template, check the message
// type against the provider's supported set, send, record metrics.
// Construct one per process and pass it to the engine explicitly.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	stats     map[string]*ProviderStats

	attempts  *prometheus.CounterVec
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewDispatcher creates a dispatcher. Metrics are registered on reg;
// pass a private prometheus.NewRegistry in tests. A nil reg skips
// metric registration, a nil logger falls back to slog.Default.
func NewDispatcher(logger *slog.Logger, reg prometheus.Registerer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:    logger,
		providers: make(map[string]Provider),
		stats:     make(map[string]*ProviderStats),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagflow_notify_attempts_total",
			Help: "Notification send attempts by provider.",
		}, []string{"provider"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagflow_notify_successes_total",
			Help: "Successful notification sends by provider.",
		}, []string{"provider"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagflow_notify_failures_total",
			Help: "Failed notification sends by provider.",
		}, []string{"provider"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dagflow_notify_latency_seconds",
			Help:    "Notification send latency by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(d.attempts, d.successes, d.failures, d.latency)
	}
	return d
}

// RegisterProvider initializes and adds a provider. Registering the
// same provider type twice fails.
func (d *Dispatcher) RegisterProvider(p Provider, config map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.providers[p.ID()]; exists {
		return fmt.Errorf("provider %q already registered", p.ID())
	}
	if err := p.Initialize(config); err != nil {
		return fmt.Errorf("initialize provider %q: %w", p.ID(), err)
	}
	d.providers[p.ID()] = p
	d.stats[p.ID()] = &ProviderStats{}

	d.logger.Info("Registered notification provider", "provider", p.ID())
	return nil
}

// UnregisterProvider destroys and removes a provider.
func (d *Dispatcher) UnregisterProvider(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, exists := d.providers[id]
	if !exists {
		return fmt.Errorf("unregister provider %q: %w", id, ErrProviderNotFound)
	}
	if err := p.Destroy(); err != nil {
		d.logger.Warn("Provider destroy failed", "provider", id, "error", err)
	}
	delete(d.providers, id)
	return nil
}

// Provider returns the registered provider for the given type.
func (d *Dispatcher) Provider(id string) (Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, exists := d.providers[id]
	if !exists {
		return nil, fmt.Errorf("provider %q: %w", id, ErrProviderNotFound)
	}
	return p, nil
}

// Providers returns the ids of all registered providers.
func (d *Dispatcher) Providers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.providers))
	for id := range d.providers {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a snapshot of delivery counters for a provider.
func (d *Dispatcher) Stats(id string) (ProviderStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, exists := d.stats[id]
	if !exists {
		return ProviderStats{}, false
	}
	return *s, true
}

// Dispatch runs the full pipeline for one message through the provider
// of the given type. providerConfig is the per-send provider config
// from the node; msg.Content must already be interpolated by the
// caller (nodes use Interpolate).
func (d *Dispatcher) Dispatch(ctx context.Context, providerType string, providerConfig map[string]any, msg *Message) (*SendResult, error) {
	p, err := d.Provider(providerType)
	if err != nil {
		return nil, err
	}

	if err := p.ValidateConfiguration(providerConfig); err != nil {
		return nil, fmt.Errorf("provider %q config invalid: %w", providerType, err)
	}
	if !supportsType(p, msg.MessageType) {
		return nil, fmt.Errorf("provider %q does not accept %s: %w",
			providerType, msg.MessageType, ErrUnsupportedMessageType)
	}

	d.attempts.WithLabelValues(providerType).Inc()
	start := time.Now()
	result, err := p.Send(ctx, msg)
	elapsed := time.Since(start)
	d.latency.WithLabelValues(providerType).Observe(elapsed.Seconds())

	d.recordOutcome(providerType, elapsed, err == nil && result != nil && result.Success)

	if err != nil {
		d.failures.WithLabelValues(providerType).Inc()
		return nil, fmt.Errorf("provider %q send: %w", providerType, err)
	}
	d.successes.WithLabelValues(providerType).Inc()

	result.ProviderID = providerType
	result.LatencyMs = elapsed.Milliseconds()
	d.logger.Debug("Dispatched notification",
		"provider", providerType,
		"message_id", msg.MessageID,
		"latency_ms", result.LatencyMs)
	return result, nil
}

// Shutdown destroys all providers. Destroy failures are logged, not
// surfaced.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, p := range d.providers {
		if err := p.Destroy(); err != nil {
			d.logger.Warn("Provider destroy failed", "provider", id, "error", err)
		}
		delete(d.providers, id)
	}
}

func (d *Dispatcher) recordOutcome(id string, elapsed time.Duration, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, exists := d.stats[id]
	if !exists {
		return
	}
	s.Attempts++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	// Running average over attempts.
	s.AverageLatency += (float64(elapsed.Milliseconds()) - s.AverageLatency) / float64(s.Attempts)
}
