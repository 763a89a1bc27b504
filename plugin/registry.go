package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// usageDebounce is the minimum interval between two usage updates for
// the same plugin.
const usageDebounce = time.Minute

// UsageInfo tracks how a loaded plugin is being used. The resource
// manager orders eviction candidates by these values.
type UsageInfo struct {
	CreateTime     time.Time `json:"create_time"`
	LastAccessTime time.Time `json:"last_access_time"`
	AccessCount    int64     `json:"access_count"`
}

// entry is the registry record for one loaded plugin.
type entry struct {
	plugin  Plugin
	info    Info
	archive *Archive     // nil for in-process registrations
	space   *SymbolSpace // nil for in-process registrations

	usageMu sync.Mutex
	usage   UsageInfo
}

// Registry discovers, loads and tears down data-source plugins. It owns
// the host factory table, one symbol space per archive-loaded plugin,
// and the security scanner. Initialize and Destroy of a plugin are
// serialized by the registry; all other plugin methods may be called
// concurrently by nodes.
type Registry struct {
	logger       *slog.Logger
	scanner      *Scanner
	globalConfig map[string]any

	mu        sync.RWMutex
	factories map[string]Factory
	entries   map[string]*entry
}

// RegistryOption customizes a registry at creation.
type RegistryOption func(*Registry)

// WithScanner replaces the default security scanner.
func WithScanner(s *Scanner) RegistryOption {
	return func(r *Registry) { r.scanner = s }
}

// WithGlobalConfig sets the process-wide config passed to every
// plugin's Initialize.
func WithGlobalConfig(cfg map[string]any) RegistryOption {
	return func(r *Registry) { r.globalConfig = cfg }
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:    logger,
		scanner:   &Scanner{},
		factories: make(map[string]Factory),
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFactory binds a factory symbol in the host table. Archive
// descriptors resolve their symbols against this table through their
// symbol space.
func (r *Registry) RegisterFactory(symbol string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[symbol] = factory
}

// hostResolve is the host side of every symbol space.
func (r *Registry) hostResolve(symbol string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[symbol]
	if !ok {
		return nil, false
	}
	return f, true
}

// Register adds an in-process plugin declaration: initialize, then
// catalog. No archive, no symbol space, no scan.
func (r *Registry) Register(p Plugin) error {
	info := p.Info()
	if info.PluginID == "" {
		return fmt.Errorf("register plugin: empty plugin id")
	}

	r.mu.Lock()
	if _, exists := r.entries[info.PluginID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("register plugin %q: %w", info.PluginID, ErrAlreadyRegistered)
	}
	// Reserve the id so concurrent registrations cannot race the
	// unlocked Initialize call below.
	r.entries[info.PluginID] = nil
	r.mu.Unlock()

	if err := p.Initialize(r.globalConfig); err != nil {
		r.mu.Lock()
		delete(r.entries, info.PluginID)
		r.mu.Unlock()
		return fmt.Errorf("initialize plugin %q: %w", info.PluginID, err)
	}

	now := time.Now()
	r.mu.Lock()
	r.entries[info.PluginID] = &entry{
		plugin: p,
		info:   info,
		usage:  UsageInfo{CreateTime: now, LastAccessTime: now},
	}
	r.mu.Unlock()

	r.logger.Info("Registered plugin", "plugin_id", info.PluginID, "version", info.Version)
	return nil
}

// LoadArchive discovers a plugin from an on-disk archive: open, create
// an isolated symbol space, bind the first descriptor symbol to its
// factory, security-scan, initialize, catalog. Any failure leaves the
// registry unchanged. The scan report is returned for logging even on
// success.
func (r *Registry) LoadArchive(ctx context.Context, path string, opts ...SpaceOption) (Info, *ScanReport, error) {
	archive, err := OpenArchive(path)
	if err != nil {
		return Info{}, nil, err
	}

	space := NewSymbolSpace(archivePluginID(archive), r.hostResolve, opts...)

	var bound Plugin
	if archive.HasDescriptor() {
		factory, err := space.ResolveFactory(archive.Symbols[0])
		if err != nil {
			space.Dispose()
			return Info{}, nil, fmt.Errorf("bind plugin archive %s: %w", path, err)
		}
		bound = factory()
	}

	report := r.scanner.ScanArchive(ctx, archive, bound)
	if !report.Passed() {
		space.Dispose()
		r.logger.Warn("Plugin archive rejected",
			"path", path,
			"criticals", len(report.Criticals()))
		return Info{}, report, fmt.Errorf("archive %s: %w", path, ErrScanRejected)
	}

	info := archiveIdentity(archive, bound)
	if bound == nil {
		space.Dispose()
		return Info{}, report, fmt.Errorf("archive %s declares no loadable plugin", path)
	}
	if info.PluginID == "" {
		info = bound.Info()
	}

	r.mu.Lock()
	if _, exists := r.entries[info.PluginID]; exists {
		r.mu.Unlock()
		space.Dispose()
		return Info{}, report, fmt.Errorf("load archive %s: plugin %q: %w", path, info.PluginID, ErrAlreadyRegistered)
	}
	r.entries[info.PluginID] = nil
	r.mu.Unlock()

	if err := bound.Initialize(r.globalConfig); err != nil {
		r.mu.Lock()
		delete(r.entries, info.PluginID)
		r.mu.Unlock()
		space.Dispose()
		return Info{}, report, fmt.Errorf("initialize plugin %q: %w", info.PluginID, err)
	}

	now := time.Now()
	r.mu.Lock()
	r.entries[info.PluginID] = &entry{
		plugin:  bound,
		info:    info,
		archive: archive,
		space:   space,
		usage:   UsageInfo{CreateTime: now, LastAccessTime: now},
	}
	r.mu.Unlock()

	r.logger.Info("Loaded plugin archive",
		"plugin_id", info.PluginID,
		"path", path,
		"findings", len(report.Findings))
	return info, report, nil
}

// Get returns a registered plugin and records usage, debounced to one
// update per minute.
func (r *Registry) Get(id string) (Plugin, error) {
	r.mu.RLock()
	e, exists := r.entries[id]
	r.mu.RUnlock()
	if !exists || e == nil {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}

	e.usageMu.Lock()
	now := time.Now()
	if now.Sub(e.usage.LastAccessTime) >= usageDebounce || e.usage.AccessCount == 0 {
		e.usage.LastAccessTime = now
		e.usage.AccessCount++
	}
	e.usageMu.Unlock()

	return e.plugin, nil
}

// CreateConnection validates the config against the plugin's declared
// parameters and opens a connection. The caller owns the connection.
func (r *Registry) CreateConnection(ctx context.Context, id string, config map[string]any) (Connection, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	coerced, err := CoerceConfig(p.SupportedParameters(), config)
	if err != nil {
		return nil, fmt.Errorf("plugin %q config: %w", id, err)
	}
	if result := p.ValidateConfig(coerced); !result.Valid() {
		return nil, fmt.Errorf("plugin %q config invalid: %v", id, result.Errors)
	}
	conn, err := p.CreateConnection(ctx, coerced)
	if err != nil {
		return nil, fmt.Errorf("plugin %q connection: %w", id, err)
	}
	return conn, nil
}

// Unregister destroys a plugin and disposes its symbol space. Destroy
// runs outside the registry lock so a slow plugin cannot stall other
// registry operations.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists || e == nil {
		r.mu.Unlock()
		return fmt.Errorf("unregister plugin %q: %w", id, ErrNotFound)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	if err := e.plugin.Destroy(); err != nil {
		r.logger.Warn("Plugin destroy failed", "plugin_id", id, "error", err)
	}
	if e.space != nil {
		e.space.Dispose()
	}

	r.logger.Info("Unregistered plugin", "plugin_id", id)
	return nil
}

// Usage returns the usage record for a plugin.
func (r *Registry) Usage(id string) (UsageInfo, error) {
	r.mu.RLock()
	e, exists := r.entries[id]
	r.mu.RUnlock()
	if !exists || e == nil {
		return UsageInfo{}, fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}

	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	return e.usage, nil
}

// List returns the registered plugin ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of loaded plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e != nil {
			n++
		}
	}
	return n
}

// Describe returns the identity of a registered plugin.
func (r *Registry) Describe(id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[id]
	if !exists || e == nil {
		return Info{}, fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	return e.info, nil
}

// Shutdown unregisters every plugin. Per-plugin failures are logged,
// not surfaced.
func (r *Registry) Shutdown() {
	for _, id := range r.List() {
		if err := r.Unregister(id); err != nil {
			r.logger.Warn("Shutdown unregister failed", "plugin_id", id, "error", err)
		}
	}
}

func archivePluginID(a *Archive) string {
	if a.Manifest != nil && a.Manifest.PluginID != "" {
		return a.Manifest.PluginID
	}
	return a.Path
}
