package event

import (
	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
)

// Handler has one method per outcome event kind
type Handler interface {
	OnConnectionSuccess(requestID string)
	OnConnectionStatus(requestID string, connected bool)
	OnSubscriptionSuccess(requestID, topic string)
	OnSubscriptionError(requestID, topic string, err error)
	OnPublishSuccess(requestID, topic string)
	OnMessageArrived(requestID, topic string, payload []byte)
	OnException(requestID string, err error)
}

// NopHandler ignores every event. Embed it to implement only some methods.
type NopHandler struct{}

func (NopHandler) OnConnectionSuccess(string) {}
func (NopHandler) OnConnectionStatus(string, bool) {}
func (NopHandler) OnSubscriptionSuccess(string, string) {}
func (NopHandler) OnSubscriptionError(string, string, error) {}
func (NopHandler) OnPublishSuccess(string, string) {}
func (NopHandler) OnMessageArrived(string, string, []byte) {}
func (NopHandler) OnException(string, error) {}

// Dispatch adapts h to a Listener
func Dispatch(h Handler) Listener {
	return ListenerFunc(func(evt message.Event) {
		switch evt.Kind {
		case message.ConnectionSuccess:
			h.OnConnectionSuccess(evt.RequestID)
		case message.ConnectionStatus:
			h.OnConnectionStatus(evt.RequestID, evt.Connected)
		case message.SubscriptionSuccess:
			h.OnSubscriptionSuccess(evt.RequestID, evt.Topic)
		case message.SubscriptionError:
			h.OnSubscriptionError(evt.RequestID, evt.Topic, evt.Err)
		case message.PublishSuccess:
			h.OnPublishSuccess(evt.RequestID, evt.Topic)
		case message.MessageArrived:
			h.OnMessageArrived(evt.RequestID, evt.Topic, evt.Payload)
		case message.Exception:
			h.OnException(evt.RequestID, evt.Err)
		}
	})
}

// Receiver decodes raw envelopes arriving on a broadcast channel and hands
// the events to a listener. Envelopes for other channels and malformed
// envelopes are dropped.
type Receiver struct {
	channel  string
	listener Listener
	log      *log.Logger
}

// NewReceiver creates a receiver for the broadcast channel of namespace
func NewReceiver(namespace string, listener Listener, logger *log.Logger) *Receiver {
	return &Receiver{
		channel:  message.BroadcastChannel(namespace),
		listener: listener,
		log:      logger,
	}
}

// Receive decodes env and delivers it. It reports whether env was delivered.
func (r *Receiver) Receive(env message.Envelope) bool {
	evt, err := message.DecodeEvent(r.channel, env)
	if err != nil {
		r.log.Debug("Dropping envelope: %v", err)
		return false
	}
	r.listener.OnEvent(evt)
	return true
}

// ReceiveJSON parses data as an envelope and delivers it
func (r *Receiver) ReceiveJSON(data []byte) bool {
	env, err := message.ParseEnvelope(data)
	if err != nil {
		r.log.Debug("Dropping envelope: %v", err)
		return false
	}
	return r.Receive(env)
}
