// Package session runs the single command worker that owns the broker
// connection, tracks auto-resubscribe topics and turns every command and
// transport callback into outcome events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
	"github.com/ibs-source/mqtt-session/internal/mqtt"
)

// Emitter receives every outcome event produced by the worker
type Emitter interface {
	Publish(evt message.Event)
}

// Worker executes commands one at a time in submission order. Transport
// callbacks are queued behind pending commands, so the connection and the
// session state are only ever touched from the worker goroutine.
type Worker struct {
	dialer  mqtt.Dialer
	emitter Emitter
	log     *log.Logger

	queue *queue
	state *State
	done  chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWorker creates a stopped worker. Commands submitted before Start are
// kept and run once it starts.
func NewWorker(dialer mqtt.Dialer, emitter Emitter, logger *log.Logger) *Worker {
	return &Worker{
		dialer:  dialer,
		emitter: emitter,
		log:     logger,
		queue:   newQueue(),
		state:   newState(),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling it again is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Stop rejects new commands, lets queued ones finish and waits for the
// worker to exit or ctx to end. A connection still open at that point is
// force-closed.
func (w *Worker) Stop(ctx context.Context) error {
	w.queue.close()

	w.mu.Lock()
	started := w.started
	w.started = true
	w.mu.Unlock()

	if !started {
		// Never ran: nothing to drain
		close(w.done)
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop: %w", ctx.Err())
	}
}

// Done is closed once the worker goroutine has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Submit queues cmd and returns its request id, generating one when the
// command carries none. It never blocks.
func (w *Worker) Submit(cmd message.Command) string {
	cmd = cmd.WithRequestID()
	if !w.enqueue(func() { w.execute(cmd) }) {
		w.log.WarnWithFields(logrus.Fields{"reqId": cmd.RequestID}, "Worker stopped, dropping %s command", cmd.Kind)
	}
	return cmd.RequestID
}

func (w *Worker) enqueue(t task) bool {
	return w.queue.push(t)
}

// run drains the queue until it is closed and empty
func (w *Worker) run() {
	defer close(w.done)
	defer w.release()

	w.log.Debug("Session worker started")
	for {
		t, ok, finished := w.queue.pop()
		if ok {
			w.runTask(t)
			continue
		}
		if finished {
			w.log.Debug("Session worker stopped")
			return
		}
		<-w.queue.wake
	}
}

// runTask isolates a panicking task so the worker keeps serving
func (w *Worker) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Session worker recovered from panic: %v", r)
		}
	}()
	t()
}

// release force-closes a connection left open at shutdown
func (w *Worker) release() {
	conn := w.state.conn
	if conn == nil {
		return
	}
	w.failPending(fmt.Errorf("%w: worker stopped before reconnection completed", ErrNotConnected))
	w.state.clear()
	if err := callSafely(conn.ForceDisconnect); err != nil {
		w.log.Debug("Force disconnect at shutdown failed: %v", err)
	}
}

// execute dispatches a command on the worker goroutine
func (w *Worker) execute(cmd message.Command) {
	w.log.DebugWithFields(logrus.Fields{"reqId": cmd.RequestID, "state": w.state.Status().String()}, "Executing %s", cmd.Kind)

	switch cmd.Kind {
	case message.Connect:
		w.connect(cmd, nil)
	case message.Disconnect:
		w.disconnect(cmd.RequestID)
	case message.Subscribe:
		w.subscribe(cmd.RequestID, cmd.Topics, cmd.QoS, cmd.AutoResubscribe)
	case message.Publish:
		w.publish(cmd.RequestID, cmd.Topic, cmd.Payload, cmd.QoS)
	case message.ConnectAndSubscribe:
		w.connectAndSubscribe(cmd)
	case message.CheckConnectionStatus:
		w.emit(message.NewConnectionStatus(cmd.RequestID, w.state.isConnected()))
	default:
		w.log.ErrorWithFields(logrus.Fields{"reqId": cmd.RequestID}, "Unknown command kind %d", int(cmd.Kind))
	}
}

// connect dials a new connection, confirms an existing one, or reconnects
// a dropped one. sub, when set, is subscribed once the connection is up.
func (w *Worker) connect(cmd message.Command, sub *message.Command) {
	if w.state.conn == nil {
		w.dial(cmd, sub)
		return
	}

	if w.state.conn.IsConnected() {
		w.log.Debug("Client already connected, nothing to do")
		w.emit(message.NewConnectionSuccess(cmd.RequestID))
		w.subscribePending(sub)
		return
	}

	w.reconnect(pendingConnect{requestID: cmd.RequestID, subscribe: sub})
}

func (w *Worker) dial(cmd message.Command, sub *message.Command) {
	w.log.InfoWithFields(logrus.Fields{"reqId": cmd.RequestID, "clientId": cmd.ClientID}, "Creating new MQTT connection to %s", cmd.BrokerURL)

	w.state.connecting = true
	gen := w.state.nextGeneration()
	opts := mqtt.ConnectOptions{
		BrokerURL: cmd.BrokerURL,
		ClientID:  cmd.ClientID,
		Username:  cmd.Username,
		Password:  cmd.Password,
	}

	conn, err := w.dialer.Dial(opts, w.callbacks(gen))
	if err != nil {
		w.state.clear()
		w.emit(message.NewException(cmd.RequestID, fmt.Errorf("connect to %s: %w", cmd.BrokerURL, err)))
		return
	}

	w.state.attach(conn)
	w.emit(message.NewConnectionSuccess(cmd.RequestID))
	w.subscribePending(sub)
}

// reconnect revives the existing handle. The handle and the replay set are
// kept on failure so a later Connect or the transport can still recover.
func (w *Worker) reconnect(p pendingConnect) {
	w.log.InfoWithFields(logrus.Fields{"reqId": p.requestID}, "Reconnecting MQTT")

	conn := w.state.conn
	w.state.connecting = true

	if err := callSafely(conn.Reconnect); err != nil {
		// Earlier requests still wait for the transport
		w.state.connecting = len(w.state.pending) > 0
		w.emit(message.NewException(p.requestID, fmt.Errorf("reconnect: %w", err)))
		return
	}

	w.state.addPending(p)
	if !conn.IsConnected() {
		// The transport is retrying on its own; completion arrives as a
		// reconnect callback.
		w.log.DebugWithFields(logrus.Fields{"reqId": p.requestID, "waiting": len(w.state.pending)}, "Reconnection in progress")
		return
	}

	w.completeReconnect()
}

// completeReconnect replays the auto-resubscribe topics, then reports
// success to every waiting request in submission order and runs their
// subscriptions. Without waiting requests the reconnection is unsolicited.
func (w *Worker) completeReconnect() {
	w.state.connecting = false

	pending := w.state.takePending()
	if len(pending) == 0 {
		pending = []pendingConnect{{requestID: message.NewUnsolicitedID()}}
	}

	w.log.InfoWithFields(logrus.Fields{"reqId": pending[0].requestID}, "MQTT reconnected, restoring %d subscriptions", len(w.state.autoResubscribe))
	w.resubscribe(pending[0].requestID)

	for _, p := range pending {
		w.emit(message.NewConnectionSuccess(p.requestID))
	}
	for _, p := range pending {
		w.subscribePending(p.subscribe)
	}
}

// failPending reports err to every request still waiting for a
// reconnection
func (w *Worker) failPending(err error) {
	for _, p := range w.state.takePending() {
		w.emit(message.NewException(p.requestID, err))
	}
}

func (w *Worker) subscribePending(sub *message.Command) {
	if sub != nil {
		w.subscribe(sub.RequestID, sub.Topics, sub.QoS, sub.AutoResubscribe)
	}
}

func (w *Worker) connectAndSubscribe(cmd message.Command) {
	sub := cmd
	w.connect(cmd, &sub)
}

// disconnect always ends with no handle and an empty replay set
func (w *Worker) disconnect(requestID string) {
	conn := w.state.conn
	if conn == nil {
		w.log.InfoWithFields(logrus.Fields{"reqId": requestID}, "No client connected, nothing to disconnect")
		return
	}

	w.log.DebugWithFields(logrus.Fields{"reqId": requestID}, "Disconnecting MQTT")
	w.failPending(fmt.Errorf("%w: disconnected before reconnection completed", ErrNotConnected))
	err := callSafely(conn.Disconnect)
	w.state.clear()

	if err != nil {
		w.emit(message.NewException(requestID, fmt.Errorf("disconnect: %w", err)))
		if ferr := callSafely(conn.ForceDisconnect); ferr != nil {
			w.log.Debug("Force disconnect failed: %v", ferr)
		}
		return
	}

	w.emit(message.NewConnectionStatus(requestID, false))
}

// subscribe handles each topic independently
func (w *Worker) subscribe(requestID string, topics []string, qos byte, autoResubscribe bool) {
	if len(topics) == 0 {
		w.emit(message.NewSubscriptionError(requestID, "", ErrNoTopics))
		return
	}

	if !w.state.isConnected() {
		for _, topic := range topics {
			w.emit(message.NewSubscriptionError(requestID, topic,
				fmt.Errorf("%w: can't subscribe to %s", ErrNotConnected, topic)))
		}
		return
	}

	for _, topic := range topics {
		w.log.DebugWithFields(logrus.Fields{"reqId": requestID}, "Subscribing to topic: %s with QoS %d", topic, qos)

		if err := callSafely(func() error { return w.state.conn.Subscribe(topic, qos) }); err != nil {
			w.emit(message.NewSubscriptionError(requestID, topic, err))
			continue
		}

		if autoResubscribe {
			w.state.upsert(topic, qos)
		}
		w.emit(message.NewSubscriptionSuccess(requestID, topic, qos))
	}
}

// resubscribe replays the auto-resubscribe set. Failed topics stay in the
// set for the next reconnection.
func (w *Worker) resubscribe(requestID string) {
	for _, topic := range w.state.sortedTopics() {
		qos := w.state.autoResubscribe[topic]
		w.log.DebugWithFields(logrus.Fields{"reqId": requestID}, "Resubscribing to topic: %s with QoS %d", topic, qos)

		if err := callSafely(func() error { return w.state.conn.Subscribe(topic, qos) }); err != nil {
			w.emit(message.NewSubscriptionError(requestID, topic, err))
			continue
		}
		w.emit(message.NewSubscriptionSuccess(requestID, topic, qos))
	}
}

func (w *Worker) publish(requestID, topic string, payload []byte, qos byte) {
	if !w.state.isConnected() {
		w.emit(message.NewException(requestID,
			fmt.Errorf("%w: can't publish to topic: %s", ErrNotConnected, topic)))
		return
	}

	w.log.DebugWithFields(logrus.Fields{"reqId": requestID}, "Publishing %d bytes to topic: %s", len(payload), topic)
	if err := callSafely(func() error { return w.state.conn.Publish(topic, payload, qos) }); err != nil {
		w.emit(message.NewException(requestID, fmt.Errorf("publish to %s: %w", topic, err)))
		return
	}
	w.emit(message.NewPublishSuccess(requestID, topic))
}

// callbacks routes transport callbacks of connection gen into the queue
func (w *Worker) callbacks(gen uint64) mqtt.Callbacks {
	return mqtt.Callbacks{
		ConnectionLost: func(err error) {
			w.enqueue(func() { w.onConnectionLost(err) })
		},
		MessageArrived: func(topic string, payload []byte) {
			p := append([]byte(nil), payload...)
			w.enqueue(func() {
				w.emit(message.NewMessageArrived(message.NewUnsolicitedID(), topic, p))
			})
		},
		ConnectComplete: func(reconnect bool) {
			w.enqueue(func() { w.onConnectComplete(gen, reconnect) })
		},
	}
}

func (w *Worker) onConnectionLost(err error) {
	if err == nil {
		err = errors.New("connection lost")
	} else {
		err = fmt.Errorf("connection lost: %w", err)
	}
	w.emit(message.NewException(message.NewUnsolicitedID(), err))
}

// onConnectComplete handles reconnections finished by the transport
func (w *Worker) onConnectComplete(gen uint64, reconnect bool) {
	if !reconnect {
		return
	}
	if w.state.conn == nil || gen != w.state.generation {
		w.log.Debug("Ignoring reconnection of a discarded connection")
		return
	}
	w.completeReconnect()
}

func (w *Worker) emit(evt message.Event) {
	w.log.DebugWithFields(logrus.Fields{"reqId": evt.RequestID, "topic": evt.Topic}, "Emitting %s", evt.Kind)
	w.emitter.Publish(evt)
}

// callSafely turns a panicking transport call into an error
func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return fn()
}
