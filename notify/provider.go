package notify

import (
	"context"
	"errors"
)

// Common dispatcher errors.
var (
	// ErrProviderNotFound is returned when dispatching to an
	// unregistered provider type.
	ErrProviderNotFound = errors.New("notification provider not found")

	// ErrUnsupportedMessageType is returned when a provider does not
	// support the message's content format.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
)

// Provider is the transport contract. Implementations must be safe for
// concurrent Send calls; Initialize and Destroy are serialized by the
// dispatcher.
type Provider interface {
	// ID returns the provider type identifier (e.g. "console").
	ID() string

	// Initialize prepares the provider with its process-wide config.
	Initialize(config map[string]any) error

	// ValidateConfiguration checks a per-send provider config without
	// side effects.
	ValidateConfiguration(config map[string]any) error

	// Send delivers the message.
	Send(ctx context.Context, msg *Message) (*SendResult, error)

	// TestConnection probes the transport.
	TestConnection(ctx context.Context) *TestResult

	// SupportedMessageTypes returns the content formats the provider
	// accepts.
	SupportedMessageTypes() []MessageType

	// Destroy releases transport resources.
	Destroy() error
}

// supportsType reports whether the provider accepts the given type.
func supportsType(p Provider, t MessageType) bool {
	for _, mt := range p.SupportedMessageTypes() {
		if mt == t {
			return true
		}
	}
	return false
}
