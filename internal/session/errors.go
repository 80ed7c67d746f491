package session

import "errors"

// Precondition errors carried by events for commands that never reached
// the broker.
var (
	// ErrNotConnected is reported when a command needs a live connection.
	ErrNotConnected = errors.New("client not connected")

	// ErrNoTopics is reported for a subscription request without topics.
	ErrNoTopics = errors.New("no topics passed to subscribe")
)
