// Package plugin implements the data-source plugin runtime: the plugin
// contract, discovery from in-process declarations and on-disk archives,
// per-plugin symbol isolation, a structural security scan, and an
// idle/memory-pressure resource manager.
package plugin

import (
	"context"
	"fmt"
)

// Info identifies a plugin.
type Info struct {
	PluginID    string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Author      string `yaml:"author" json:"author"`
	Description string `yaml:"description" json:"description"`
}

// ValidationResult collects config validation findings.
type ValidationResult struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Valid reports whether no errors were recorded.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// AddError records an error finding.
func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddWarning records a warning finding.
func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// TestResult reports the outcome of a connection probe.
type TestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Plugin is the data-source contract. Initialize and Destroy are
// serialized by the registry; ValidateConfig, CreateConnection and
// TestConnection must be safe to call concurrently.
type Plugin interface {
	// Info returns the plugin identity. Values are authoritative when
	// the archive carries no manifest.
	Info() Info

	// SupportedParameters declares the config surface of the plugin.
	SupportedParameters() []ParameterSpec

	// Initialize prepares the plugin with process-wide configuration.
	// Called exactly once before any other method.
	Initialize(globalConfig map[string]any) error

	// ValidateConfig checks a per-node config without side effects.
	ValidateConfig(config map[string]any) *ValidationResult

	// CreateConnection opens a scoped connection for a single read.
	// The returned connection is exclusively owned by the caller.
	CreateConnection(ctx context.Context, config map[string]any) (Connection, error)

	// TestConnection probes the data source with the given config.
	TestConnection(ctx context.Context, config map[string]any) *TestResult

	// Destroy releases plugin resources. Called exactly once when the
	// plugin leaves the registry.
	Destroy() error
}

// SchemaProvider is implemented by plugins that can describe the shape
// of the data a config would produce.
type SchemaProvider interface {
	Schema(config map[string]any) (map[string]any, error)
}

// DependencyProvider is implemented by plugins that declare external
// dependency strings, inspected by the security scan.
type DependencyProvider interface {
	Dependencies() []string
}

// Page is one page of a paged read.
type Page struct {
	Records    []any `json:"records"`
	PageSize   int   `json:"page_size"`
	PageNumber int   `json:"page_number"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// Connection is a scoped resource produced by a plugin. It is owned by
// its creator and must be closed on every exit path.
type Connection interface {
	// ReadData returns the full payload for this connection's config.
	ReadData(ctx context.Context) (any, error)

	// IsConnected reports whether the connection is usable.
	IsConnected() bool

	// ConnectionInfo describes the connection for diagnostics.
	ConnectionInfo() map[string]any

	// Close releases the connection. Closing twice is a no-op.
	Close() error
}

// PagedConnection is implemented by connections that support paging.
type PagedConnection interface {
	Connection
	ReadPaged(ctx context.Context, pageSize, pageNumber int) (*Page, error)
}

// StreamConnection is implemented by connections that can push records
// through a callback.
type StreamConnection interface {
	Connection
	ReadStream(ctx context.Context, fn func(record any) error) error
}

// Factory constructs a plugin instance. Factories are registered under
// symbol names and resolved through per-plugin symbol spaces.
type Factory func() Plugin
