// Package message defines the commands accepted by the session worker, the
// outcome events it emits, and the flat envelope used to move both across a
// process boundary.
package message

import "fmt"

// CommandKind discriminates a Command.
type CommandKind int

// Command kinds.
const (
	Connect CommandKind = iota + 1
	Disconnect
	Subscribe
	Publish
	ConnectAndSubscribe
	CheckConnectionStatus
)

// Action names, also used as the prefix of generated request ids.
const (
	ActionConnect             = ".mqtt.connect"
	ActionDisconnect          = ".mqtt.disconnect"
	ActionSubscribe           = ".mqtt.subscribe"
	ActionPublish             = ".mqtt.publish"
	ActionConnectAndSubscribe = ".mqtt.connect-and-subscribe"
	ActionCheckStatus         = ".mqtt.check-status"
)

var commandActions = map[CommandKind]string{
	Connect:               ActionConnect,
	Disconnect:            ActionDisconnect,
	Subscribe:             ActionSubscribe,
	Publish:               ActionPublish,
	ConnectAndSubscribe:   ActionConnectAndSubscribe,
	CheckConnectionStatus: ActionCheckStatus,
}

// Action returns the wire action name of the kind, or "" if unknown.
func (k CommandKind) Action() string {
	return commandActions[k]
}

func (k CommandKind) String() string {
	if a := k.Action(); a != "" {
		return a[len(".mqtt."):]
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// commandKindFromAction is the inverse of Action.
func commandKindFromAction(action string) (CommandKind, bool) {
	for k, a := range commandActions {
		if a == action {
			return k, true
		}
	}
	return 0, false
}

// Command is a single unit of work for the session worker.
// Which fields are meaningful depends on Kind.
type Command struct {
	Kind      CommandKind
	RequestID string

	// Connect, ConnectAndSubscribe
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// Subscribe, ConnectAndSubscribe
	Topics          []string
	AutoResubscribe bool

	// Publish
	Topic   string
	Payload []byte

	// Subscribe, ConnectAndSubscribe, Publish. Defaults to 0.
	QoS byte
}

// HasCredentials reports whether both username and password were supplied.
// A lone username or password is ignored, as the transport requires both.
func (c Command) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// WithRequestID returns c with a generated request id when it has none.
func (c Command) WithRequestID() Command {
	if c.RequestID == "" {
		c.RequestID = NewRequestID(c.Kind.Action())
	}
	return c
}
