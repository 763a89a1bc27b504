package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSProvider publishes messages to a NATS subject derived from the
// provider type and message priority: notify.<subject-prefix>.<priority>.
// Chat and webhook bridges subscribe on the other side.
type NATSProvider struct {
	conn          *nats.Conn
	subjectPrefix string
	ownsConn      bool
}

// NewNATSProvider creates a provider over an existing connection.
// When conn is nil, Initialize dials the "url" from the config and the
// provider owns the connection.
func NewNATSProvider(conn *nats.Conn) *NATSProvider {
	return &NATSProvider{conn: conn}
}

func (p *NATSProvider) ID() string { return "nats" }

func (p *NATSProvider) Initialize(config map[string]any) error {
	prefix, _ := config["subjectPrefix"].(string)
	if prefix == "" {
		prefix = "notifications"
	}
	p.subjectPrefix = prefix

	if p.conn != nil {
		return nil
	}
	url, _ := config["url"].(string)
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	p.conn = conn
	p.ownsConn = true
	return nil
}

func (p *NATSProvider) ValidateConfiguration(config map[string]any) error {
	if raw, exists := config["subject"]; exists {
		subject, ok := raw.(string)
		if !ok {
			return fmt.Errorf("subject must be a string, got %T", raw)
		}
		if strings.ContainsAny(subject, " \t") {
			return fmt.Errorf("subject %q contains whitespace", subject)
		}
	}
	return nil
}

func (p *NATSProvider) Send(_ context.Context, msg *Message) (*SendResult, error) {
	if p.conn == nil {
		return nil, fmt.Errorf("nats provider not initialized")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	subject := fmt.Sprintf("notify.%s.%s", p.subjectPrefix, strings.ToLower(string(msg.Priority)))
	if err := p.conn.Publish(subject, data); err != nil {
		return nil, fmt.Errorf("publish to %s: %w", subject, err)
	}
	return &SendResult{
		MessageID: msg.MessageID,
		Success:   true,
		Details:   map[string]any{"subject": subject},
	}, nil
}

func (p *NATSProvider) TestConnection(_ context.Context) *TestResult {
	start := time.Now()
	if p.conn == nil || !p.conn.IsConnected() {
		return &TestResult{Success: false, Message: "not connected"}
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		return &TestResult{Success: false, Message: err.Error()}
	}
	return &TestResult{Success: true, LatencyMs: time.Since(start).Milliseconds()}
}

func (p *NATSProvider) SupportedMessageTypes() []MessageType {
	return []MessageType{TypeText, TypeMarkdown, TypeJSON, TypeHTML, TypeTemplate}
}

func (p *NATSProvider) Destroy() error {
	if p.ownsConn && p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	return nil
}
