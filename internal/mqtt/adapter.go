// Package mqtt defines the broker connection capability consumed by the
// session worker and provides its paho-backed implementation.
package mqtt

// ConnectOptions identifies the broker and the client for one connection.
// Credentials are only sent when both Username and Password are set.
type ConnectOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// HasCredentials reports whether both username and password are present
func (o ConnectOptions) HasCredentials() bool {
	return o.Username != "" && o.Password != ""
}

// Callbacks are driven by the connection from transport goroutines.
// Implementations must not block; the session worker only enqueues.
type Callbacks struct {
	// ConnectionLost fires when an established connection drops.
	ConnectionLost func(err error)
	// MessageArrived fires for every inbound message on any subscription.
	MessageArrived func(topic string, payload []byte)
	// ConnectComplete fires after every successful connection. reconnect is
	// true when the transport re-established the link on its own.
	ConnectComplete func(reconnect bool)
}

// Dialer opens broker connections.
type Dialer interface {
	// Dial connects synchronously and returns the live connection.
	Dial(opts ConnectOptions, cb Callbacks) (Conn, error)
}

// Conn is a single broker connection. It is not safe for concurrent use;
// the session worker is its only caller.
type Conn interface {
	IsConnected() bool
	// Reconnect re-establishes a dropped connection. A nil error with
	// IsConnected still false means the transport is already retrying and
	// will report completion through Callbacks.ConnectComplete.
	Reconnect() error
	Subscribe(topic string, qos byte) error
	Publish(topic string, payload []byte, qos byte) error
	// Disconnect closes the connection gracefully and stops any automatic
	// reconnection.
	Disconnect() error
	// ForceDisconnect closes the connection without waiting for in-flight work.
	ForceDisconnect() error
}

// Ensure Transport implements Dialer
var _ Dialer = (*Transport)(nil)

// Ensure Client implements Conn
var _ Conn = (*Client)(nil)
