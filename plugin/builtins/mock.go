// Package builtins carries the data-source plugins that ship with the
// engine: an in-memory mock source for tests and demos, and a local
// file source for JSON, YAML and CSV files.
package builtins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/dagflow/plugin"
)

// MockSymbol is the factory symbol the mock plugin registers under.
const MockSymbol = "builtin.mock"

// MockFactory constructs the mock data source.
func MockFactory() plugin.Plugin { return &MockPlugin{} }

// MockPlugin serves configured in-memory data. The config keys:
//
//	data       any payload to return (default: empty list)
//	delayMs    artificial read latency
//	failRead   force ReadData to fail
//	records    int; generate that many synthetic records when data
//	           is not set
type MockPlugin struct {
	mu          sync.Mutex
	initialized bool
	destroyed   bool
}

func (p *MockPlugin) Info() plugin.Info {
	return plugin.Info{
		PluginID:    "mock",
		Name:        "Mock Data Source",
		Version:     "1.0.0",
		Author:      "dagflow",
		Description: "In-memory data source for tests and demos.",
	}
}

func (p *MockPlugin) SupportedParameters() []plugin.ParameterSpec {
	return []plugin.ParameterSpec{
		{Name: "data", Type: plugin.TypeJSON, Description: "Payload returned by every read."},
		{Name: "delayMs", Type: plugin.TypeInt, DefaultValue: 0, Description: "Artificial read latency in milliseconds."},
		{Name: "failRead", Type: plugin.TypeBool, DefaultValue: false, Description: "Force reads to fail."},
		{Name: "records", Type: plugin.TypeInt, DefaultValue: 0, Description: "Generate this many synthetic records when data is unset."},
	}
}

func (p *MockPlugin) Initialize(globalConfig map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return errors.New("mock plugin initialized twice")
	}
	p.initialized = true
	return nil
}

func (p *MockPlugin) ValidateConfig(config map[string]any) *plugin.ValidationResult {
	return plugin.ValidateParams(p.SupportedParameters(), config)
}

func (p *MockPlugin) CreateConnection(ctx context.Context, config map[string]any) (plugin.Connection, error) {
	p.mu.Lock()
	ok := p.initialized && !p.destroyed
	p.mu.Unlock()
	if !ok {
		return nil, errors.New("mock plugin is not initialized")
	}

	conn := &mockConnection{config: config, open: true}
	return conn, nil
}

func (p *MockPlugin) TestConnection(ctx context.Context, config map[string]any) *plugin.TestResult {
	start := time.Now()
	if fail, _ := config["failRead"].(bool); fail {
		return &plugin.TestResult{Success: false, Message: "configured to fail", LatencyMs: time.Since(start).Milliseconds()}
	}
	return &plugin.TestResult{Success: true, Message: "ok", LatencyMs: time.Since(start).Milliseconds()}
}

func (p *MockPlugin) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	return nil
}

type mockConnection struct {
	config map[string]any

	mu   sync.Mutex
	open bool
}

func (c *mockConnection) ReadData(ctx context.Context) (any, error) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return nil, errors.New("mock connection is closed")
	}

	if delay := intConfig(c.config, "delayMs"); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delay) * time.Millisecond):
		}
	}

	if fail, _ := c.config["failRead"].(bool); fail {
		return nil, errors.New("mock read failure")
	}

	if data, present := c.config["data"]; present && data != nil {
		return data, nil
	}

	n := intConfig(c.config, "records")
	records := make([]any, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, map[string]any{
			"id":    i,
			"value": fmt.Sprintf("record-%d", i),
		})
	}
	return records, nil
}

func (c *mockConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *mockConnection) ConnectionInfo() map[string]any {
	return map[string]any{"type": "mock"}
}

func (c *mockConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// ReadPaged slices the full payload into pages when it is a list.
func (c *mockConnection) ReadPaged(ctx context.Context, pageSize, pageNumber int) (*plugin.Page, error) {
	data, err := c.ReadData(ctx)
	if err != nil {
		return nil, err
	}
	list, ok := data.([]any)
	if !ok {
		return nil, fmt.Errorf("payload %T does not support paging", data)
	}
	if pageSize <= 0 {
		pageSize = len(list)
		if pageSize == 0 {
			pageSize = 1
		}
	}

	total := (len(list) + pageSize - 1) / pageSize
	start := pageNumber * pageSize
	if start > len(list) {
		start = len(list)
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}

	return &plugin.Page{
		Records:    list[start:end],
		PageSize:   pageSize,
		PageNumber: pageNumber,
		TotalPages: total,
		HasMore:    end < len(list),
	}, nil
}

func intConfig(config map[string]any, key string) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
