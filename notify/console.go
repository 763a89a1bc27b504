package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleProvider writes messages to a writer, stdout by default.
// Intended for local development and tests.
type ConsoleProvider struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleProvider creates a console provider writing to out.
// A nil out means stdout.
func NewConsoleProvider(out io.Writer) *ConsoleProvider {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleProvider{out: out}
}

func (p *ConsoleProvider) ID() string { return "console" }

func (p *ConsoleProvider) Initialize(_ map[string]any) error { return nil }

func (p *ConsoleProvider) ValidateConfiguration(_ map[string]any) error { return nil }

func (p *ConsoleProvider) Send(_ context.Context, msg *Message) (*SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprintf(p.out, "[%s] %s: %s\n", msg.Priority, msg.Title, msg.Content); err != nil {
		return nil, fmt.Errorf("write console message: %w", err)
	}
	return &SendResult{MessageID: msg.MessageID, Success: true}, nil
}

func (p *ConsoleProvider) TestConnection(_ context.Context) *TestResult {
	return &TestResult{Success: true, Message: "console is always reachable"}
}

func (p *ConsoleProvider) SupportedMessageTypes() []MessageType {
	return []MessageType{TypeText, TypeMarkdown, TypeJSON}
}

func (p *ConsoleProvider) Destroy() error { return nil }
