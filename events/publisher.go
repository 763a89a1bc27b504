// Package events publishes execution lifecycle events to NATS so
// external systems can observe workflow runs without polling.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/dagflow/execution"
)

// Event subjects, published under "<prefix>.<subject>".
const (
	SubjectExecutionStarted   = "execution.started"
	SubjectNodeCompleted      = "node.completed"
	SubjectExecutionCompleted = "execution.completed"
)

// ExecutionEvent is the wire shape of a lifecycle event.
type ExecutionEvent struct {
	WorkflowID  string                    `json:"workflow_id"`
	ExecutionID string                    `json:"execution_id"`
	Timestamp   time.Time                 `json:"timestamp"`
	Node        *execution.NodeResult     `json:"node,omitempty"`
	Result      *execution.WorkflowResult `json:"result,omitempty"`
}

// NATSPublisher emits execution events over a NATS connection. Publish
// failures are logged and dropped; eventing never fails an execution.
type NATSPublisher struct {
	logger  *slog.Logger
	conn    *nats.Conn
	prefix  string
	ownConn bool
}

// PublisherOption customizes a publisher.
type PublisherOption func(*NATSPublisher)

// WithOwnedConn makes Close drain and close the connection.
func WithOwnedConn() PublisherOption {
	return func(p *NATSPublisher) { p.ownConn = true }
}

// NewNATSPublisher wraps an established connection. prefix defaults to
// "dagflow".
func NewNATSPublisher(logger *slog.Logger, conn *nats.Conn, prefix string, opts ...PublisherOption) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "dagflow"
	}
	p := &NATSPublisher{logger: logger, conn: conn, prefix: prefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect dials NATS and returns a publisher owning the connection.
func Connect(logger *slog.Logger, url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return NewNATSPublisher(logger, conn, prefix, WithOwnedConn()), nil
}

func (p *NATSPublisher) ExecutionStarted(workflowID, executionID string) {
	p.publish(SubjectExecutionStarted, &ExecutionEvent{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
	})
}

func (p *NATSPublisher) NodeCompleted(workflowID, executionID string, result *execution.NodeResult) {
	p.publish(SubjectNodeCompleted, &ExecutionEvent{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Node:        result,
	})
}

func (p *NATSPublisher) ExecutionCompleted(result *execution.WorkflowResult) {
	p.publish(SubjectExecutionCompleted, &ExecutionEvent{
		WorkflowID:  result.WorkflowID,
		ExecutionID: result.ExecutionID,
		Timestamp:   time.Now(),
		Result:      result,
	})
}

func (p *NATSPublisher) publish(subject string, event *ExecutionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("Event marshal failed", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(p.prefix+"."+subject, payload); err != nil {
		p.logger.Warn("Event publish failed", "subject", subject, "error", err)
	}
}

// Close flushes and, when the connection is owned, closes it.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("Event flush failed", "error", err)
	}
	if p.ownConn {
		p.conn.Close()
	}
	return nil
}
