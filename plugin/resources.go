package plugin

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResourceConfig tunes the plugin resource manager. Zero values are
// replaced by the defaults below.
type ResourceConfig struct {
	// CheckInterval is the cadence of the regular maintenance pass.
	CheckInterval time.Duration `yaml:"check_interval"`

	// IdleTimeout is how long a plugin may go unused before it becomes
	// an eviction candidate.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MemoryThreshold is the heap-in-use ratio above which the
	// memory-pressure policy evicts least-recently-used plugins.
	MemoryThreshold float64 `yaml:"memory_threshold"`

	// EmergencyThreshold is the heap ratio above which the manager
	// switches to the faster emergency cadence.
	EmergencyThreshold float64 `yaml:"emergency_threshold"`

	// EmergencyInterval is the maintenance cadence under emergency
	// memory pressure.
	EmergencyInterval time.Duration `yaml:"emergency_interval"`

	// MaxPlugins caps the number of loaded plugins; beyond it the
	// capacity policy evicts the least recently used.
	MaxPlugins int `yaml:"max_plugins"`

	// MaxEvictionsPerPass bounds how many plugins one pass may evict.
	MaxEvictionsPerPass int `yaml:"max_evictions_per_pass"`

	// Whitelist names plugins that are never evicted.
	Whitelist []string `yaml:"whitelist"`
}

// DefaultResourceConfig returns the standard eviction tuning.
func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		CheckInterval:       5 * time.Minute,
		IdleTimeout:         30 * time.Minute,
		MemoryThreshold:     0.8,
		EmergencyThreshold:  0.9,
		EmergencyInterval:   30 * time.Second,
		MaxPlugins:          50,
		MaxEvictionsPerPass: 5,
	}
}

func (c *ResourceConfig) applyDefaults() {
	d := DefaultResourceConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MemoryThreshold <= 0 {
		c.MemoryThreshold = d.MemoryThreshold
	}
	if c.EmergencyThreshold <= 0 {
		c.EmergencyThreshold = d.EmergencyThreshold
	}
	if c.EmergencyInterval <= 0 {
		c.EmergencyInterval = d.EmergencyInterval
	}
	if c.MaxPlugins <= 0 {
		c.MaxPlugins = d.MaxPlugins
	}
	if c.MaxEvictionsPerPass <= 0 {
		c.MaxEvictionsPerPass = d.MaxEvictionsPerPass
	}
}

// heapRatio reports heap in use over the heap limit the runtime is
// working against. Overridable in tests.
func heapRatio() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapInuse) / float64(m.HeapSys)
}

// ResourceManager runs the periodic plugin maintenance pass: idle
// eviction, memory-pressure eviction and capacity enforcement, in that
// order, never touching whitelisted plugins and never evicting more
// than the per-pass bound. Under emergency memory pressure the pass
// cadence drops from minutes to seconds.
type ResourceManager struct {
	logger   *slog.Logger
	registry *Registry
	config   ResourceConfig

	// heap is the memory probe, swapped out by tests.
	heap func() float64

	loadedGauge    prometheus.Gauge
	heapGauge      prometheus.Gauge
	evictedCounter *prometheus.CounterVec

	mu        sync.Mutex
	whitelist map[string]bool
	stopped   chan struct{}
	done      chan struct{}
	running   bool
}

// NewResourceManager wires a manager to a registry. reg may be nil to
// skip metric registration.
func NewResourceManager(logger *slog.Logger, registry *Registry, config ResourceConfig, reg prometheus.Registerer) *ResourceManager {
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()

	m := &ResourceManager{
		logger:    logger,
		registry:  registry,
		config:    config,
		heap:      heapRatio,
		whitelist: make(map[string]bool),
		loadedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagflow_plugins_loaded",
			Help: "Number of plugins currently loaded.",
		}),
		heapGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagflow_plugin_heap_ratio",
			Help: "Heap-in-use ratio observed by the plugin resource manager.",
		}),
		evictedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagflow_plugin_evictions_total",
			Help: "Plugins evicted by the resource manager, by policy.",
		}, []string{"policy"}),
	}
	for _, id := range config.Whitelist {
		m.whitelist[id] = true
	}

	if reg != nil {
		reg.MustRegister(m.loadedGauge, m.heapGauge, m.evictedCounter)
	}
	return m
}

// Whitelist marks a plugin as never evictable.
func (m *ResourceManager) Whitelist(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.whitelist[id] = true
}

// Start launches the maintenance loop. Stop ends it.
func (m *ResourceManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopped = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop ends the maintenance loop and waits for the current pass.
func (m *ResourceManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopped)
	done := m.done
	m.mu.Unlock()

	<-done
}

func (m *ResourceManager) loop(ctx context.Context) {
	defer close(m.done)

	regular := time.NewTicker(m.config.CheckInterval)
	defer regular.Stop()

	// The emergency ticker polls the heap independently of the regular
	// cadence, so pressure crossing the threshold right after a pass is
	// still reacted to within one emergency interval.
	emergency := time.NewTicker(m.config.EmergencyInterval)
	defer emergency.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopped:
			return
		case <-regular.C:
			m.RunPass()
		case <-emergency.C:
			if m.heap() > m.config.EmergencyThreshold {
				m.RunPass()
			}
		}
	}
}

// candidate pairs a plugin id with its usage for eviction ordering.
type candidate struct {
	id    string
	usage UsageInfo
}

// RunPass executes one maintenance pass and returns the evicted ids.
func (m *ResourceManager) RunPass() []string {
	ratio := m.heap()
	m.heapGauge.Set(ratio)
	m.loadedGauge.Set(float64(m.registry.Count()))

	candidates := m.evictable()
	budget := m.config.MaxEvictionsPerPass
	var evicted []string

	// Idle first: plugins nobody touched within the idle timeout.
	cutoff := time.Now().Add(-m.config.IdleTimeout)
	for _, c := range candidates {
		if budget == 0 {
			break
		}
		if c.usage.LastAccessTime.Before(cutoff) {
			if m.evict(c.id, "idle") {
				evicted = append(evicted, c.id)
				budget--
			}
		}
	}

	// Memory pressure: shed least-recently-used until below threshold
	// or out of budget.
	if ratio > m.config.MemoryThreshold {
		for _, c := range m.evictable() {
			if budget == 0 || m.heap() <= m.config.MemoryThreshold {
				break
			}
			if m.evict(c.id, "memory") {
				evicted = append(evicted, c.id)
				budget--
			}
		}
	}

	// Capacity: enforce the plugin cap.
	for m.registry.Count() > m.config.MaxPlugins && budget > 0 {
		cs := m.evictable()
		if len(cs) == 0 {
			break
		}
		if m.evict(cs[0].id, "capacity") {
			evicted = append(evicted, cs[0].id)
			budget--
		} else {
			break
		}
	}

	m.loadedGauge.Set(float64(m.registry.Count()))
	if len(evicted) > 0 {
		m.logger.Info("Resource pass evicted plugins",
			"evicted", evicted,
			"heap_ratio", ratio)
	}
	return evicted
}

// evictable lists non-whitelisted plugins ordered least used first:
// by access count, ties broken by last access time.
func (m *ResourceManager) evictable() []candidate {
	m.mu.Lock()
	wl := make(map[string]bool, len(m.whitelist))
	for id := range m.whitelist {
		wl[id] = true
	}
	m.mu.Unlock()

	var out []candidate
	for _, id := range m.registry.List() {
		if wl[id] {
			continue
		}
		usage, err := m.registry.Usage(id)
		if err != nil {
			continue
		}
		out = append(out, candidate{id: id, usage: usage})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].usage.AccessCount != out[j].usage.AccessCount {
			return out[i].usage.AccessCount < out[j].usage.AccessCount
		}
		return out[i].usage.LastAccessTime.Before(out[j].usage.LastAccessTime)
	})
	return out
}

func (m *ResourceManager) evict(id, policy string) bool {
	if err := m.registry.Unregister(id); err != nil {
		m.logger.Warn("Eviction failed", "plugin_id", id, "policy", policy, "error", err)
		return false
	}
	m.evictedCounter.WithLabelValues(policy).Inc()
	m.logger.Info("Evicted plugin", "plugin_id", id, "policy", policy)
	return true
}
