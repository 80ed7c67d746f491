package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ibs-source/mqtt-session/pkg/jsonfast"
)

// Envelope keys.
const (
	KeyChannel         = "channel"
	KeyAction          = "action"
	KeyType            = "type"
	KeyRequestID       = "reqId"
	KeyBrokerURL       = "brokerUrl"
	KeyClientID        = "clientId"
	KeyUsername        = "username"
	KeyPassword        = "password"
	KeyTopic           = "topic"
	KeyTopics          = "topics"
	KeyPayload         = "payload"
	KeyQoS             = "qos"
	KeyAutoResubscribe = "autoResubscribeOnReconnect"
	KeyConnected       = "connected"
	KeyException       = "exception"
)

const (
	broadcastSuffix = ".mqtt.broadcast"
	commandSuffix   = ".mqtt.command"
)

var (
	// ErrMalformedEnvelope is returned for envelopes that cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrForeignChannel is returned for envelopes addressed to another channel.
	ErrForeignChannel = errors.New("envelope not for this channel")
)

// Envelope is the flat string map that carries a command or an event
// between processes. It maps one to one onto a Redis stream entry.
type Envelope map[string]string

// BroadcastChannel derives the event channel identity from a namespace.
func BroadcastChannel(namespace string) string {
	return namespace + broadcastSuffix
}

// CommandChannel derives the command channel identity from a namespace.
func CommandChannel(namespace string) string {
	return namespace + commandSuffix
}

// MarshalJSON encodes the envelope as a flat JSON object with sorted keys.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return jsonfast.Object(e), nil
}

// ParseEnvelope decodes a JSON object produced by MarshalJSON.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env == nil {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedEnvelope)
	}
	return env, nil
}

// Values converts the envelope to the map shape expected by XADD.
func (e Envelope) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(e))
	for k, v := range e {
		values[k] = v
	}
	return values
}

// EnvelopeFromValues converts a Redis stream entry back into an envelope.
// Non-string values make the entry malformed.
func EnvelopeFromValues(values map[string]interface{}) (Envelope, error) {
	env := make(Envelope, len(values))
	for k, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %s is %T", ErrMalformedEnvelope, k, v)
		}
		env[k] = s
	}
	return env, nil
}

// EncodeCommand builds the envelope of cmd for the given command channel.
func EncodeCommand(channel string, cmd Command) Envelope {
	env := Envelope{
		KeyChannel:   channel,
		KeyAction:    cmd.Kind.Action(),
		KeyRequestID: cmd.RequestID,
	}

	switch cmd.Kind {
	case Connect:
		putConnect(env, cmd)
	case Subscribe:
		putSubscribe(env, cmd)
	case ConnectAndSubscribe:
		putConnect(env, cmd)
		putSubscribe(env, cmd)
	case Publish:
		env[KeyTopic] = cmd.Topic
		env[KeyPayload] = base64.StdEncoding.EncodeToString(cmd.Payload)
		env[KeyQoS] = strconv.Itoa(int(cmd.QoS))
	}
	return env
}

func putConnect(env Envelope, cmd Command) {
	env[KeyBrokerURL] = cmd.BrokerURL
	env[KeyClientID] = cmd.ClientID
	if cmd.Username != "" {
		env[KeyUsername] = cmd.Username
	}
	if cmd.Password != "" {
		env[KeyPassword] = cmd.Password
	}
}

func putSubscribe(env Envelope, cmd Command) {
	topics := cmd.Topics
	if topics == nil {
		topics = []string{}
	}
	encoded, _ := json.Marshal(topics) // []string never fails
	env[KeyTopics] = string(encoded)
	env[KeyQoS] = strconv.Itoa(int(cmd.QoS))
	env[KeyAutoResubscribe] = strconv.FormatBool(cmd.AutoResubscribe)
}

// DecodeCommand is the inverse of EncodeCommand. It never panics; every
// rejection wraps ErrForeignChannel or ErrMalformedEnvelope.
func DecodeCommand(channel string, env Envelope) (Command, error) {
	if env[KeyChannel] != channel {
		return Command{}, fmt.Errorf("%w: got %q", ErrForeignChannel, env[KeyChannel])
	}

	kind, ok := commandKindFromAction(env[KeyAction])
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown action %q", ErrMalformedEnvelope, env[KeyAction])
	}

	cmd := Command{Kind: kind, RequestID: env[KeyRequestID]}
	if cmd.RequestID == "" {
		return Command{}, fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, KeyRequestID)
	}

	var err error
	switch kind {
	case Connect:
		err = getConnect(env, &cmd)
	case Subscribe:
		err = getSubscribe(env, &cmd)
	case ConnectAndSubscribe:
		if err = getConnect(env, &cmd); err == nil {
			err = getSubscribe(env, &cmd)
		}
	case Publish:
		err = getPublish(env, &cmd)
	}
	if err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func getConnect(env Envelope, cmd *Command) error {
	cmd.BrokerURL = env[KeyBrokerURL]
	cmd.ClientID = env[KeyClientID]
	if cmd.BrokerURL == "" || cmd.ClientID == "" {
		return fmt.Errorf("%w: connect requires %s and %s", ErrMalformedEnvelope, KeyBrokerURL, KeyClientID)
	}
	cmd.Username = env[KeyUsername]
	cmd.Password = env[KeyPassword]
	return nil
}

func getSubscribe(env Envelope, cmd *Command) error {
	if raw, ok := env[KeyTopics]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &cmd.Topics); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyTopics, err)
		}
	}

	qos, err := parseQoS(env[KeyQoS])
	if err != nil {
		return err
	}
	cmd.QoS = qos

	if raw := env[KeyAutoResubscribe]; raw != "" {
		auto, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyAutoResubscribe, err)
		}
		cmd.AutoResubscribe = auto
	}
	return nil
}

func getPublish(env Envelope, cmd *Command) error {
	cmd.Topic = env[KeyTopic]
	if cmd.Topic == "" {
		return fmt.Errorf("%w: publish requires %s", ErrMalformedEnvelope, KeyTopic)
	}

	payload, err := base64.StdEncoding.DecodeString(env[KeyPayload])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyPayload, err)
	}
	cmd.Payload = payload

	qos, err := parseQoS(env[KeyQoS])
	if err != nil {
		return err
	}
	cmd.QoS = qos
	return nil
}

// parseQoS accepts "", "0", "1" and "2". Empty means the default, 0.
func parseQoS(raw string) (byte, error) {
	if raw == "" {
		return 0, nil
	}
	q, err := strconv.Atoi(raw)
	if err != nil || q < 0 || q > 2 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrMalformedEnvelope, KeyQoS, raw)
	}
	return byte(q), nil // #nosec G115 - validated range 0-2
}

// EncodeEvent builds the envelope of evt for the given broadcast channel.
func EncodeEvent(channel string, evt Event) Envelope {
	env := Envelope{
		KeyChannel:   channel,
		KeyType:      evt.Kind.Type(),
		KeyRequestID: evt.RequestID,
	}

	switch evt.Kind {
	case ConnectionStatus:
		env[KeyConnected] = strconv.FormatBool(evt.Connected)
	case SubscriptionSuccess:
		env[KeyTopic] = evt.Topic
		env[KeyQoS] = strconv.Itoa(int(evt.QoS))
	case SubscriptionError:
		env[KeyTopic] = evt.Topic
		env[KeyException] = evt.ErrorDetail()
	case PublishSuccess:
		env[KeyTopic] = evt.Topic
	case MessageArrived:
		env[KeyTopic] = evt.Topic
		env[KeyPayload] = base64.StdEncoding.EncodeToString(evt.Payload)
	case Exception:
		env[KeyException] = evt.ErrorDetail()
	}
	return env
}

// DecodeEvent is the inverse of EncodeEvent: a total function from an
// envelope to an Event or a rejection wrapping ErrForeignChannel or
// ErrMalformedEnvelope.
func DecodeEvent(channel string, env Envelope) (Event, error) {
	if env[KeyChannel] != channel {
		return Event{}, fmt.Errorf("%w: got %q", ErrForeignChannel, env[KeyChannel])
	}

	if env[KeyType] == "" || env[KeyRequestID] == "" {
		return Event{}, fmt.Errorf("%w: missing %s or %s", ErrMalformedEnvelope, KeyType, KeyRequestID)
	}

	kind, ok := eventKindFromType(env[KeyType])
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env[KeyType])
	}

	evt := Event{Kind: kind, RequestID: env[KeyRequestID], Topic: env[KeyTopic]}

	switch kind {
	case ConnectionStatus:
		connected, err := strconv.ParseBool(env[KeyConnected])
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyConnected, err)
		}
		evt.Connected = connected
	case SubscriptionSuccess:
		qos, err := parseQoS(env[KeyQoS])
		if err != nil {
			return Event{}, err
		}
		evt.QoS = qos
	case SubscriptionError, Exception:
		evt.Err = errors.New(env[KeyException])
	case MessageArrived:
		payload, err := base64.StdEncoding.DecodeString(env[KeyPayload])
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyPayload, err)
		}
		evt.Payload = payload
	}
	return evt, nil
}
