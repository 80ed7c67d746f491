package session

import (
	"sort"

	"github.com/ibs-source/mqtt-session/internal/message"
	"github.com/ibs-source/mqtt-session/internal/mqtt"
)

// ConnState is the lifecycle phase of a session
type ConnState int

// Session lifecycle phases
const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is owned by the worker goroutine and never shared.
type State struct {
	conn       mqtt.Conn
	generation uint64
	connecting bool

	// autoResubscribe maps topic to QoS for subscriptions replayed after a
	// reconnection. Every entry was subscribed successfully.
	autoResubscribe map[string]byte

	// pending lists, in submission order, the Connect and
	// ConnectAndSubscribe commands waiting for the transport to finish
	// reconnecting.
	pending []pendingConnect
}

// pendingConnect is a connect request whose outcome arrives with the next
// reconnection. subscribe is set for ConnectAndSubscribe.
type pendingConnect struct {
	requestID string
	subscribe *message.Command
}

func newState() *State {
	return &State{autoResubscribe: make(map[string]byte)}
}

// Status derives the lifecycle phase from the connection handle
func (s *State) Status() ConnState {
	switch {
	case s.connecting:
		return Connecting
	case s.conn != nil && s.conn.IsConnected():
		return Connected
	default:
		return Disconnected
	}
}

// isConnected reports whether a handle exists and the transport is up
func (s *State) isConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// attach installs a freshly dialed connection
func (s *State) attach(conn mqtt.Conn) {
	s.conn = conn
	s.connecting = false
}

// nextGeneration tags the callbacks of the next dialed connection
func (s *State) nextGeneration() uint64 {
	s.generation++
	return s.generation
}

// upsert records topic for replay; the last QoS wins
func (s *State) upsert(topic string, qos byte) {
	s.autoResubscribe[topic] = qos
}

// addPending records a connect request waiting for the reconnection
func (s *State) addPending(p pendingConnect) {
	s.pending = append(s.pending, p)
}

// takePending returns and forgets every pending connect request
func (s *State) takePending() []pendingConnect {
	p := s.pending
	s.pending = nil
	return p
}

// clear drops the handle together with every subscription record
func (s *State) clear() {
	s.conn = nil
	s.connecting = false
	s.pending = nil
	for topic := range s.autoResubscribe {
		delete(s.autoResubscribe, topic)
	}
}

// AutoResubscribeTopics returns a copy of the replay set
func (s *State) AutoResubscribeTopics() map[string]byte {
	out := make(map[string]byte, len(s.autoResubscribe))
	for topic, qos := range s.autoResubscribe {
		out[topic] = qos
	}
	return out
}

// sortedTopics lists the replay set in a stable order
func (s *State) sortedTopics() []string {
	topics := make([]string, 0, len(s.autoResubscribe))
	for topic := range s.autoResubscribe {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
