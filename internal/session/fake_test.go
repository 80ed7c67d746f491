package session

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
	"github.com/ibs-source/mqtt-session/internal/mqtt"
)

var errBroker = errors.New("broker says no")

type subscribeCall struct {
	topic string
	qos   byte
}

// fakeDialer hands out fakeConns and records every adapter call in order.
// It fails the test if two adapter calls ever overlap.
type fakeDialer struct {
	t *testing.T

	mu        sync.Mutex
	dialErr   error
	conns     []*fakeConn
	callbacks []mqtt.Callbacks
	calls     []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeDialer(t *testing.T) *fakeDialer {
	return &fakeDialer{t: t}
}

// enter marks the start of an adapter call
func (d *fakeDialer) enter(name string) func() {
	n := d.inFlight.Add(1)
	for {
		m := d.maxInFlight.Load()
		if n <= m || d.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()

	// Give an overlapping caller a chance to run
	runtime.Gosched()
	return func() { d.inFlight.Add(-1) }
}

func (d *fakeDialer) Dial(opts mqtt.ConnectOptions, cb mqtt.Callbacks) (mqtt.Conn, error) {
	defer d.enter("dial " + opts.BrokerURL)()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.callbacks = append(d.callbacks, cb)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{d: d, opts: opts, connected: true, subscribeErr: map[string]error{}}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Greater(d.t, len(d.conns), i, "connection %d was never dialed", i)
	return d.conns[i]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.callbacks)
}

// lastCallbacks returns the callbacks of the most recent dial
func (d *fakeDialer) lastCallbacks() mqtt.Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(d.t, d.callbacks, "no dial happened")
	return d.callbacks[len(d.callbacks)-1]
}

func (d *fakeDialer) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// fakeConn is a scriptable connection
type fakeConn struct {
	d    *fakeDialer
	opts mqtt.ConnectOptions

	mu                 sync.Mutex
	connected          bool
	subscribeErr       map[string]error
	publishErr         error
	publishPanic       bool
	reconnectErr       error
	reconnectStaysDown bool
	disconnectErr      error
	forceErr           error
	subscribes         []subscribeCall
	publishes          []string
	reconnects         int
	disconnects        int
	forcedDisconnects  int
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Reconnect() error {
	defer c.d.enter("reconnect")()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconnects++
	if c.reconnectErr != nil {
		return c.reconnectErr
	}
	if !c.reconnectStaysDown {
		c.connected = true
	}
	return nil
}

func (c *fakeConn) Subscribe(topic string, qos byte) error {
	defer c.d.enter("subscribe " + topic)()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribes = append(c.subscribes, subscribeCall{topic: topic, qos: qos})
	return c.subscribeErr[topic]
}

func (c *fakeConn) Publish(topic string, _ []byte, _ byte) error {
	defer c.d.enter("publish " + topic)()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publishPanic {
		panic("publish exploded")
	}
	c.publishes = append(c.publishes, topic)
	return c.publishErr
}

func (c *fakeConn) Disconnect() error {
	defer c.d.enter("disconnect")()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnects++
	if c.disconnectErr != nil {
		return c.disconnectErr
	}
	c.connected = false
	return nil
}

func (c *fakeConn) ForceDisconnect() error {
	defer c.d.enter("force-disconnect")()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forcedDisconnects++
	c.connected = false
	return c.forceErr
}

// with runs fn under the connection lock
func (c *fakeConn) with(fn func(c *fakeConn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeConn) subscribeCalls() []subscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subscribeCall(nil), c.subscribes...)
}

// recorder collects emitted events
type recorder struct {
	mu     sync.Mutex
	events []message.Event
}

func (r *recorder) Publish(evt message.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) all() []message.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Event(nil), r.events...)
}

func (r *recorder) forRequest(id string) []message.Event {
	var out []message.Event
	for _, evt := range r.all() {
		if evt.RequestID == id {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// harness bundles a started worker with its fakes
type harness struct {
	t      *testing.T
	dialer *fakeDialer
	events *recorder
	worker *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, dialer: newFakeDialer(t), events: &recorder{}}
	h.worker = NewWorker(h.dialer, h.events, log.Discard())
	h.worker.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.worker.Stop(ctx)
	})
	return h
}

// sync waits until everything queued so far has executed
func (h *harness) sync() {
	h.t.Helper()
	done := make(chan struct{})
	require.True(h.t, h.worker.enqueue(func() { close(done) }), "worker queue closed")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("worker did not drain its queue")
	}
}

// submit queues cmd, waits for it and returns its request id
func (h *harness) submit(cmd message.Command) string {
	h.t.Helper()
	id := h.worker.Submit(cmd)
	h.sync()
	return id
}

// inspect runs fn against the session state on the worker goroutine
func (h *harness) inspect(fn func(s *State)) {
	h.t.Helper()
	done := make(chan struct{})
	require.True(h.t, h.worker.enqueue(func() {
		defer close(done)
		fn(h.worker.state)
	}))
	<-done
}

func (h *harness) autoResubscribe() map[string]byte {
	var topics map[string]byte
	h.inspect(func(s *State) { topics = s.AutoResubscribeTopics() })
	return topics
}

func (h *harness) connect() *fakeConn {
	h.t.Helper()
	h.submit(connectCmd("tcp://broker:1883"))
	h.events.reset()
	return h.dialer.conn(h.dialer.dialCount() - 1)
}

func connectCmd(url string) message.Command {
	return message.Command{Kind: message.Connect, BrokerURL: url, ClientID: "client-1"}
}

func kinds(events []message.Event) []message.EventKind {
	out := make([]message.EventKind, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Kind)
	}
	return out
}
