package message

import "fmt"

// EventKind discriminates an outcome Event.
type EventKind int

// Event kinds.
const (
	ConnectionSuccess EventKind = iota + 1
	ConnectionStatus
	SubscriptionSuccess
	SubscriptionError
	PublishSuccess
	MessageArrived
	Exception
)

var eventTypes = map[EventKind]string{
	ConnectionSuccess:   "connectionSuccess",
	ConnectionStatus:    "connectionStatus",
	SubscriptionSuccess: "subscriptionSuccess",
	SubscriptionError:   "subscriptionError",
	PublishSuccess:      "publishSuccess",
	MessageArrived:      "messageArrived",
	Exception:           "exception",
}

// Type returns the wire broadcast type of the kind, or "" if unknown.
func (k EventKind) Type() string {
	return eventTypes[k]
}

func (k EventKind) String() string {
	if t := k.Type(); t != "" {
		return t
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func eventKindFromType(t string) (EventKind, bool) {
	for k, name := range eventTypes {
		if name == t {
			return k, true
		}
	}
	return 0, false
}

// Event is an outcome reported to listeners. RequestID correlates it with
// the command that caused it, or is freshly generated for unsolicited
// events.
type Event struct {
	Kind      EventKind
	RequestID string
	Topic     string
	QoS       byte
	Payload   []byte
	Connected bool
	Err       error
}

// NewConnectionSuccess builds a ConnectionSuccess event.
func NewConnectionSuccess(requestID string) Event {
	return Event{Kind: ConnectionSuccess, RequestID: requestID}
}

// NewConnectionStatus builds a ConnectionStatus event.
func NewConnectionStatus(requestID string, connected bool) Event {
	return Event{Kind: ConnectionStatus, RequestID: requestID, Connected: connected}
}

// NewSubscriptionSuccess builds a SubscriptionSuccess event.
func NewSubscriptionSuccess(requestID, topic string, qos byte) Event {
	return Event{Kind: SubscriptionSuccess, RequestID: requestID, Topic: topic, QoS: qos}
}

// NewSubscriptionError builds a SubscriptionError event.
func NewSubscriptionError(requestID, topic string, err error) Event {
	return Event{Kind: SubscriptionError, RequestID: requestID, Topic: topic, Err: err}
}

// NewPublishSuccess builds a PublishSuccess event.
func NewPublishSuccess(requestID, topic string) Event {
	return Event{Kind: PublishSuccess, RequestID: requestID, Topic: topic}
}

// NewMessageArrived builds a MessageArrived event.
func NewMessageArrived(requestID, topic string, payload []byte) Event {
	return Event{Kind: MessageArrived, RequestID: requestID, Topic: topic, Payload: payload}
}

// NewException builds an Exception event.
func NewException(requestID string, err error) Event {
	return Event{Kind: Exception, RequestID: requestID, Err: err}
}

// ErrorDetail returns the error text carried by the event, or "".
func (e Event) ErrorDetail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
