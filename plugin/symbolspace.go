package plugin

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultSharedPrefixes are the symbol prefixes every plugin resolves
// against the host: the engine's own contracts plus the runtime
// built-ins. Configurable per plugin.
var DefaultSharedPrefixes = []string{
	"dagflow.",
	"builtin.",
}

// DefaultPluginPrefixes are symbol prefixes kept strictly private to a
// plugin. Common third-party concerns default here so a plugin may ship
// its own copy of, e.g., a serialization library at a different version
// than the host without collision.
var DefaultPluginPrefixes = []string{
	"vendor.",
	"codec.",
	"driver.",
	"http.",
}

// SymbolSpace is the isolated symbol namespace of one loaded plugin.
// Resolution precedence:
//
//  1. symbols under a shared prefix delegate to the host table
//  2. otherwise the plugin-local table is tried first
//  3. on miss, fall back to the host table
//
// A disposed space rejects every lookup, making cached handles from it
// unreachable.
type SymbolSpace struct {
	pluginID       string
	sharedPrefixes []string
	pluginPrefixes []string
	host           func(symbol string) (any, bool)

	mu       sync.RWMutex
	local    map[string]any
	disposed bool
}

// SpaceOption customizes a symbol space at creation.
type SpaceOption func(*SymbolSpace)

// WithSharedPrefixes replaces the shared prefix set.
func WithSharedPrefixes(prefixes []string) SpaceOption {
	return func(s *SymbolSpace) { s.sharedPrefixes = prefixes }
}

// WithPluginPrefixes replaces the plugin-private prefix set.
func WithPluginPrefixes(prefixes []string) SpaceOption {
	return func(s *SymbolSpace) { s.pluginPrefixes = prefixes }
}

// NewSymbolSpace creates a symbol space for pluginID. host resolves
// symbols in the host table; it must be non-nil.
func NewSymbolSpace(pluginID string, host func(symbol string) (any, bool), opts ...SpaceOption) *SymbolSpace {
	s := &SymbolSpace{
		pluginID:       pluginID,
		sharedPrefixes: DefaultSharedPrefixes,
		pluginPrefixes: DefaultPluginPrefixes,
		host:           host,
		local:          make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PluginID returns the owning plugin id.
func (s *SymbolSpace) PluginID() string { return s.pluginID }

// Define binds a symbol in the plugin-local table. Symbols under a
// shared prefix cannot be shadowed.
func (s *SymbolSpace) Define(symbol string, value any) error {
	if s.matchesPrefix(symbol, s.sharedPrefixes) {
		return fmt.Errorf("symbol %q is shared and cannot be defined locally", symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return fmt.Errorf("symbol space of plugin %q is disposed", s.pluginID)
	}
	s.local[symbol] = value
	return nil
}

// Resolve looks up a symbol according to the precedence rules.
func (s *SymbolSpace) Resolve(symbol string) (any, error) {
	s.mu.RLock()
	if s.disposed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("symbol space of plugin %q is disposed", s.pluginID)
	}

	if s.matchesPrefix(symbol, s.sharedPrefixes) {
		s.mu.RUnlock()
		if v, ok := s.host(symbol); ok {
			return v, nil
		}
		return nil, fmt.Errorf("shared symbol %q not found in host", symbol)
	}

	if v, ok := s.local[symbol]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	private := s.matchesPrefix(symbol, s.pluginPrefixes)
	s.mu.RUnlock()

	// Plugin-private prefixes never fall back to the host.
	if private {
		return nil, fmt.Errorf("symbol %q not found in plugin %q", symbol, s.pluginID)
	}
	if v, ok := s.host(symbol); ok {
		return v, nil
	}
	return nil, fmt.Errorf("symbol %q not found", symbol)
}

// ResolveFactory resolves a symbol and asserts it is a plugin factory.
func (s *SymbolSpace) ResolveFactory(symbol string) (Factory, error) {
	v, err := s.Resolve(symbol)
	if err != nil {
		return nil, err
	}
	factory, ok := v.(Factory)
	if !ok {
		return nil, fmt.Errorf("symbol %q is %T, not a plugin factory", symbol, v)
	}
	return factory, nil
}

// Dispose empties the local table and marks the space unusable.
func (s *SymbolSpace) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = nil
	s.disposed = true
}

// Disposed reports whether the space has been disposed.
func (s *SymbolSpace) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

func (s *SymbolSpace) matchesPrefix(symbol string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(symbol, p) {
			return true
		}
	}
	return false
}
