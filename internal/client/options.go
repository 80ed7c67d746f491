package client

import "github.com/ibs-source/mqtt-session/internal/message"

// Option tunes a command before it is submitted. Options that do not apply
// to a command kind are carried but ignored by the worker.
type Option func(*message.Command)

// WithCredentials sets the broker username and password. Both must be
// non-empty for the transport to use them.
func WithCredentials(username, password string) Option {
	return func(c *message.Command) {
		c.Username = username
		c.Password = password
	}
}

// WithQoS sets the subscribe or publish quality of service (0, 1 or 2).
func WithQoS(qos byte) Option {
	return func(c *message.Command) {
		c.QoS = qos
	}
}

// WithAutoResubscribe marks subscribed topics to be restored after an
// automatic reconnection.
func WithAutoResubscribe(enable bool) Option {
	return func(c *message.Command) {
		c.AutoResubscribe = enable
	}
}

// WithRequestID overrides the generated request id.
func WithRequestID(id string) Option {
	return func(c *message.Command) {
		c.RequestID = id
	}
}
