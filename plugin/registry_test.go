package plugin

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// fakePlugin is a minimal in-process plugin for registry tests.
type fakePlugin struct {
	id          string
	initCount   atomic.Int32
	destroys    atomic.Int32
	initErr     error
	lastGlobals map[string]any
}

func (p *fakePlugin) Info() Info {
	return Info{PluginID: p.id, Name: p.id, Version: "0.1.0", Author: "test"}
}

func (p *fakePlugin) SupportedParameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "limit", Type: TypeInt, DefaultValue: 10},
		{Name: "source", Type: TypeString, Required: true},
	}
}

func (p *fakePlugin) Initialize(globalConfig map[string]any) error {
	p.initCount.Add(1)
	p.lastGlobals = globalConfig
	return p.initErr
}

func (p *fakePlugin) ValidateConfig(config map[string]any) *ValidationResult {
	result := &ValidationResult{}
	if config["source"] == "forbidden" {
		result.AddError("source %q is not allowed", config["source"])
	}
	return result
}

func (p *fakePlugin) CreateConnection(_ context.Context, config map[string]any) (Connection, error) {
	return &fakeConnection{config: config}, nil
}

func (p *fakePlugin) TestConnection(context.Context, map[string]any) *TestResult {
	return &TestResult{Success: true}
}

func (p *fakePlugin) Destroy() error {
	p.destroys.Add(1)
	return nil
}

type fakeConnection struct {
	config map[string]any
	closed bool
}

func (c *fakeConnection) ReadData(context.Context) (any, error) { return c.config["source"], nil }
func (c *fakeConnection) IsConnected() bool                     { return !c.closed }
func (c *fakeConnection) ConnectionInfo() map[string]any        { return map[string]any{"kind": "fake"} }
func (c *fakeConnection) Close() error                          { c.closed = true; return nil }

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry(nil, WithGlobalConfig(map[string]any{"env": "test"}))
	p := &fakePlugin{id: "fake"}

	if err := r.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if p.initCount.Load() != 1 {
		t.Errorf("expected exactly one Initialize, got %d", p.initCount.Load())
	}
	if p.lastGlobals["env"] != "test" {
		t.Errorf("expected global config to reach Initialize, got %v", p.lastGlobals)
	}

	if err := r.Register(&fakePlugin{id: "fake"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, err := r.Get("fake")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != Plugin(p) {
		t.Error("Get returned a different plugin instance")
	}

	if err := r.Unregister("fake"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if p.destroys.Load() != 1 {
		t.Errorf("expected exactly one Destroy, got %d", p.destroys.Load())
	}
	if _, err := r.Get("fake"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after unregister, got %v", err)
	}
	if err := r.Unregister("fake"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected double unregister to fail, got %v", err)
	}
}

func TestRegistryInitializeFailureLeavesNoEntry(t *testing.T) {
	r := NewRegistry(nil)
	p := &fakePlugin{id: "broken", initErr: errors.New("no backend")}

	if err := r.Register(p); err == nil {
		t.Fatal("expected Register to surface the Initialize error")
	}
	if r.Count() != 0 {
		t.Errorf("failed registration must not leave an entry, count=%d", r.Count())
	}
	// The id is free again.
	if err := r.Register(&fakePlugin{id: "broken"}); err != nil {
		t.Errorf("expected re-registration to succeed, got %v", err)
	}
}

func TestRegistryUsageDebounce(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&fakePlugin{id: "fake"}); err != nil {
		t.Fatal(err)
	}

	// First Get always counts; immediately repeated Gets are debounced.
	for i := 0; i < 5; i++ {
		if _, err := r.Get("fake"); err != nil {
			t.Fatal(err)
		}
	}

	usage, err := r.Usage("fake")
	if err != nil {
		t.Fatal(err)
	}
	if usage.AccessCount != 1 {
		t.Errorf("expected debounced access count 1, got %d", usage.AccessCount)
	}
	if usage.CreateTime.IsZero() || usage.LastAccessTime.IsZero() {
		t.Errorf("expected usage timestamps to be set: %+v", usage)
	}
}

func TestRegistryCreateConnection(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&fakePlugin{id: "fake"}); err != nil {
		t.Fatal(err)
	}

	conn, err := r.CreateConnection(context.Background(), "fake", map[string]any{"source": "s3"})
	if err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	defer conn.Close()

	data, err := conn.ReadData(context.Background())
	if err != nil || data != "s3" {
		t.Errorf("ReadData() = %v, %v", data, err)
	}

	// Missing required parameter fails during coercion.
	if _, err := r.CreateConnection(context.Background(), "fake", nil); err == nil {
		t.Error("expected missing required parameter to fail")
	}
	// Plugin-level validation failure.
	if _, err := r.CreateConnection(context.Background(), "fake", map[string]any{"source": "forbidden"}); err == nil {
		t.Error("expected plugin validation to reject the config")
	}
}

// writeTestArchive builds a plugin zip in dir with the given entries.
func writeTestArchive(t *testing.T, dir, name string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	for entry, content := range entries {
		ew, err := w.Create(entry)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ew.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistryLoadArchive(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterFactory("builtin.fake", func() Plugin { return &fakePlugin{id: "from-factory"} })

	path := writeTestArchive(t, t.TempDir(), "fake.zip", map[string]string{
		"spi/datasource": "# data source declarations\nbuiltin.fake\n",
		"plugin.yml": `id: archived-fake
name: Archived Fake
version: 2.0.0
author: ops
description: loaded from a zip
`,
	})

	info, report, err := r.LoadArchive(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadArchive() error = %v", err)
	}
	if !report.Passed() {
		t.Errorf("expected scan to pass, criticals: %v", report.Criticals())
	}
	// The manifest identity wins over the plugin's self-report.
	if info.PluginID != "archived-fake" || info.Version != "2.0.0" {
		t.Errorf("unexpected identity: %+v", info)
	}

	if _, err := r.Get("archived-fake"); err != nil {
		t.Errorf("expected archive plugin to be registered, got %v", err)
	}

	// A second load of the same id fails and leaves the first entry.
	if _, _, err := r.LoadArchive(context.Background(), path); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("expected one plugin, got %d", r.Count())
	}
}

func TestRegistryLoadArchiveScanRejection(t *testing.T) {
	r := NewRegistry(nil)

	// No spi/datasource entry: the scan flags missing-spi as CRITICAL.
	path := writeTestArchive(t, t.TempDir(), "bad.zip", map[string]string{
		"plugin.yml": "id: bad\n",
	})

	_, report, err := r.LoadArchive(context.Background(), path)
	if !errors.Is(err, ErrScanRejected) {
		t.Fatalf("expected ErrScanRejected, got %v", err)
	}
	if report == nil || report.Passed() {
		t.Error("expected a failing scan report alongside the error")
	}
	if r.Count() != 0 {
		t.Errorf("rejected archive must not be registered, count=%d", r.Count())
	}
}

func TestRegistryLoadArchiveUnknownSymbol(t *testing.T) {
	r := NewRegistry(nil)

	path := writeTestArchive(t, t.TempDir(), "orphan.zip", map[string]string{
		"spi/datasource": "builtin.nowhere\n",
	})

	if _, _, err := r.LoadArchive(context.Background(), path); err == nil {
		t.Error("expected unresolvable descriptor symbol to fail")
	}
}

func TestRegistryShutdown(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakePlugin{id: "a"}
	b := &fakePlugin{id: "b"}
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(b); err != nil {
		t.Fatal(err)
	}

	r.Shutdown()
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
	if a.destroys.Load() != 1 || b.destroys.Load() != 1 {
		t.Error("expected every plugin destroyed exactly once")
	}
}
