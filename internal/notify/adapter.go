// Package notify posts build progress to chat platforms (Slack, Discord).
package notify

import "context"

// Adapter is the interface that platform-specific implementations must
// satisfy. Adapters are send-only.
type Adapter interface {
	// Connect validates credentials and prepares the client.
	Connect(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close releases the connection.
	Close() error
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel; adapter default when empty
	Text      string           // message text (platform-native formatting)
	Events    []FormattedEvent // structured event attachments
}

// FormattedEvent represents a build event formatted for display in chat.
type FormattedEvent struct {
	Title    string  // event headline (e.g. "Story auth-1 built")
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint (e.g. "#36a64f" for success)
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}
