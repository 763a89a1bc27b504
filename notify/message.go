// Package notify renders templated messages and dispatches them through
// registered providers. Providers are process-wide services registered
// once on the Dispatcher and shared by all notification nodes.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// MessageType describes the content format of a message.
type MessageType string

const (
	TypeText     MessageType = "TEXT"
	TypeHTML     MessageType = "HTML"
	TypeMarkdown MessageType = "MARKDOWN"
	TypeJSON     MessageType = "JSON"
	TypeTemplate MessageType = "TEMPLATE"
)

// Priority orders message urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Message is the wire shape handed to providers.
type Message struct {
	MessageID    string            `json:"message_id"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	MessageType  MessageType       `json:"message_type"`
	Priority     Priority          `json:"priority"`
	Recipients   []string          `json:"recipients,omitempty"`
	CCRecipients []string          `json:"cc_recipients,omitempty"`
	Variables    map[string]any    `json:"variables,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	CreateTime   time.Time         `json:"create_time"`
	ScheduleTime *time.Time        `json:"schedule_time,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	Attachments  map[string]string `json:"attachments,omitempty"`
}

// NewMessage creates a message with a fresh opaque id and defaults
// (TEXT, NORMAL priority).
func NewMessage(title, content string) *Message {
	return &Message{
		MessageID:   uuid.New().String(),
		Title:       title,
		Content:     content,
		MessageType: TypeText,
		Priority:    PriorityNormal,
		CreateTime:  time.Now(),
	}
}

// SendResult reports the outcome of a provider send.
type SendResult struct {
	MessageID  string         `json:"message_id"`
	ProviderID string         `json:"provider_id"`
	Success    bool           `json:"success"`
	Message    string         `json:"message,omitempty"`
	LatencyMs  int64          `json:"latency_ms"`
	Details    map[string]any `json:"details,omitempty"`
}

// TestResult reports the outcome of a provider connectivity probe.
type TestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}
