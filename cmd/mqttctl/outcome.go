package main

import "github.com/ibs-source/mqtt-session/internal/message"

// expectation decides when the events correlated with one command are
// complete.
type expectation struct {
	kind      message.CommandKind
	requestID string
	// subscriptions still expected, one per topic or one for an empty list
	subscriptions int
	// connected is set once ConnectionSuccess arrives
	connected bool
	failed    bool
}

func newExpectation(cmd message.Command) *expectation {
	subs := len(cmd.Topics)
	if subs == 0 {
		subs = 1
	}
	return &expectation{kind: cmd.Kind, requestID: cmd.RequestID, subscriptions: subs}
}

// observe reports whether evt belongs to the command and whether no more
// events are expected.
func (e *expectation) observe(evt message.Event) (matched, done bool) {
	if evt.RequestID != e.requestID {
		return false, false
	}

	switch evt.Kind {
	case message.Exception:
		e.failed = true
		return true, e.kind != message.Subscribe
	case message.ConnectionSuccess:
		e.connected = true
	case message.SubscriptionError, message.SubscriptionSuccess:
		// A reconnection replays the auto-resubscribe topics under the
		// connect request id before ConnectionSuccess.
		if !e.awaitsSubscriptions() {
			return true, false
		}
		if evt.Kind == message.SubscriptionError {
			e.failed = true
		}
		return true, e.subscribed()
	}

	switch e.kind {
	case message.Connect:
		return true, evt.Kind == message.ConnectionSuccess
	case message.Disconnect, message.CheckConnectionStatus:
		return true, evt.Kind == message.ConnectionStatus
	case message.Publish:
		return true, evt.Kind == message.PublishSuccess
	}
	return true, false
}

// awaitsSubscriptions reports whether subscription events now answer the
// command's own topics
func (e *expectation) awaitsSubscriptions() bool {
	switch e.kind {
	case message.Subscribe:
		return true
	case message.ConnectAndSubscribe:
		return e.connected
	}
	return false
}

func (e *expectation) subscribed() bool {
	e.subscriptions--
	return e.subscriptions <= 0
}
