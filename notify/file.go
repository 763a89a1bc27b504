package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileProvider appends messages as JSON lines to a file. The target
// path comes from the registration config ("path").
type FileProvider struct {
	mu          sync.Mutex
	defaultPath string
}

// NewFileProvider creates an uninitialized file provider.
func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) ID() string { return "file" }

func (p *FileProvider) Initialize(config map[string]any) error {
	path, _ := config["path"].(string)
	if path == "" {
		return fmt.Errorf("file provider requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create notification directory: %w", err)
	}
	p.defaultPath = path
	return nil
}

func (p *FileProvider) ValidateConfiguration(config map[string]any) error {
	if raw, exists := config["path"]; exists {
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("path must be a string, got %T", raw)
		}
	}
	return nil
}

func (p *FileProvider) Send(_ context.Context, msg *Message) (*SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	f, err := os.OpenFile(p.defaultPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open notification file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append notification: %w", err)
	}
	return &SendResult{
		MessageID: msg.MessageID,
		Success:   true,
		Details:   map[string]any{"path": p.defaultPath},
	}, nil
}

func (p *FileProvider) TestConnection(_ context.Context) *TestResult {
	start := time.Now()
	f, err := os.OpenFile(p.defaultPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &TestResult{Success: false, Message: err.Error()}
	}
	f.Close()
	return &TestResult{Success: true, LatencyMs: time.Since(start).Milliseconds()}
}

func (p *FileProvider) SupportedMessageTypes() []MessageType {
	return []MessageType{TypeText, TypeMarkdown, TypeJSON, TypeHTML}
}

func (p *FileProvider) Destroy() error { return nil }
