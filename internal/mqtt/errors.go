package mqtt

import "errors"

// Connection errors
var (
	// ErrNotConnected is returned when an operation needs an open connection.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectTimeout is returned when the broker does not acknowledge a
	// connection attempt in time.
	ErrConnectTimeout = errors.New("mqtt: connection timeout")
)

// Operation errors
var (
	// ErrSubscribeTimeout is returned when a SUBACK does not arrive in time.
	ErrSubscribeTimeout = errors.New("mqtt: subscribe timeout")

	// ErrSubscriptionRejected is returned when the broker answers a
	// subscription with the failure return code.
	ErrSubscriptionRejected = errors.New("mqtt: subscription rejected by broker")

	// ErrPublishTimeout is returned when a publish is not completed in time.
	ErrPublishTimeout = errors.New("mqtt: publish timeout")
)
