package message

import "github.com/google/uuid"

// NewRequestID generates a request id of the form <action>/<uuid>.
func NewRequestID(action string) string {
	return action + "/" + uuid.NewString()
}

// NewUnsolicitedID generates a request id for events that have no
// originating command, such as inbound messages and connection loss.
func NewUnsolicitedID() string {
	return uuid.NewString()
}
