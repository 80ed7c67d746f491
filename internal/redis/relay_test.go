package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/event"
	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
)

const testNamespace = "test.mqtt-session"

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(errors.New("ERR something else")))
	assert.False(t, isBusyGroup(nil))
}

func TestDecodeEntry(t *testing.T) {
	channel := message.CommandChannel(testNamespace)
	cmd := message.Command{Kind: message.Publish, RequestID: "r1", Topic: "t", Payload: []byte("x"), QoS: 1}

	got, err := decodeEntry(channel, goredis.XMessage{ID: "1-0", Values: message.EncodeCommand(channel, cmd).Values()})
	require.NoError(t, err)
	assert.Equal(t, cmd.Topic, got.Topic)
	assert.Equal(t, cmd.Payload, got.Payload)

	_, err = decodeEntry(channel, goredis.XMessage{ID: "2-0", Values: map[string]interface{}{"channel": 7}})
	assert.ErrorIs(t, err, message.ErrMalformedEnvelope)

	foreign := message.EncodeCommand("other.mqtt.command", cmd).Values()
	_, err = decodeEntry(channel, goredis.XMessage{ID: "3-0", Values: foreign})
	assert.ErrorIs(t, err, message.ErrForeignChannel)
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
}

// liveConfig returns a relay configuration on a fresh stream, or skips when
// REDIS_ADDRESS is not set.
func liveConfig(t *testing.T) *config.RedisConfig {
	t.Helper()

	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set, skipping Redis test")
	}

	stream := "test-commands-" + uuid.NewString()
	return &config.RedisConfig{
		Enabled:       true,
		Address:       addr,
		CommandStream: stream,
		Group:         "group-" + stream,
		Consumer:      "test-consumer",
		BatchSize:     10,
		EventBuffer:   16,
		BlockTimeout:  100 * time.Millisecond,
		ErrorBackoff:  50 * time.Millisecond,
		ClaimIdle:     10 * time.Millisecond,
		DialTimeout:   time.Second,
		ReadTimeout:   time.Second,
		WriteTimeout:  time.Second,
		PingTimeout:   time.Second,
	}
}

func liveClient(t *testing.T, cfg *config.RedisConfig) *Client {
	t.Helper()
	c, err := NewClient(cfg, log.Discard())
	if err != nil {
		t.Skipf("Skipping Redis test: %v (Redis not available?)", err)
	}
	t.Cleanup(func() {
		c.rdb.Del(context.Background(), cfg.CommandStream)
		_ = c.Close()
	})
	return c
}

type submitted struct {
	mu   sync.Mutex
	cmds []message.Command
	ch   chan message.Command
}

func newSubmitted() *submitted {
	return &submitted{ch: make(chan message.Command, 16)}
}

func (s *submitted) Submit(cmd message.Command) string {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
	s.ch <- cmd
	return cmd.RequestID
}

func (s *submitted) next(t *testing.T) message.Command {
	t.Helper()
	select {
	case cmd := <-s.ch:
		return cmd
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a submitted command")
		return message.Command{}
	}
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	cfg := &config.RedisConfig{
		Address:     "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		PingTimeout: 200 * time.Millisecond,
	}
	_, err := NewClient(cfg, log.Discard())
	assert.Error(t, err)
}

func TestCommandRelay(t *testing.T) {
	cfg := liveConfig(t)
	c := liveClient(t, cfg)

	sink := newSubmitted()
	consumer := NewCommandConsumer(c, testNamespace, sink, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	producer := NewCommandProducer(c, testNamespace)
	id := producer.Submit(message.Command{Kind: message.Subscribe, Topics: []string{"a/b"}, QoS: 1, AutoResubscribe: true})

	got := sink.next(t)
	assert.Equal(t, id, got.RequestID)
	assert.Equal(t, []string{"a/b"}, got.Topics)
	assert.True(t, got.AutoResubscribe)

	// Malformed entries are acknowledged and dropped
	require.NoError(t, c.rdb.XAdd(context.Background(), &goredis.XAddArgs{
		Stream: cfg.CommandStream,
		Values: map[string]interface{}{"channel": "nope"},
	}).Err())
	id2 := producer.Submit(message.Command{Kind: message.Disconnect})
	assert.Equal(t, id2, sink.next(t).RequestID)

	assert.Eventually(t, func() bool {
		n, err := c.rdb.XLen(context.Background(), cfg.CommandStream).Result()
		return err == nil && n == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCommandConsumerClaimsIdleEntries(t *testing.T) {
	cfg := liveConfig(t)
	c := liveClient(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.ensureGroup(ctx, cfg.CommandStream, cfg.Group))
	// Joining again is fine
	require.NoError(t, c.ensureGroup(ctx, cfg.CommandStream, cfg.Group))

	id, err := NewCommandProducer(c, testNamespace).Send(ctx, message.Command{Kind: message.CheckConnectionStatus})
	require.NoError(t, err)

	// A consumer that reads and dies without acknowledging
	dead := &CommandConsumer{client: c, stream: cfg.CommandStream, group: cfg.Group, consumer: "dead-consumer"}
	msgs, err := dead.ReadBatch(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	time.Sleep(3 * cfg.ClaimIdle)

	sink := newSubmitted()
	live := NewCommandConsumer(c, testNamespace, sink, log.Discard())
	require.NoError(t, live.claimIdle(ctx))
	assert.Equal(t, id, sink.next(t).RequestID)
}

func TestEventRelay(t *testing.T) {
	cfg := liveConfig(t)
	c := liveClient(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := NewEventSubscriber(c, testNamespace, log.Discard()).Subscribe(ctx)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	received := make(chan message.Event, 4)
	receiver := event.NewReceiver(testNamespace, event.ListenerFunc(func(evt message.Event) {
		received <- evt
	}), log.Discard())
	go func() { _ = sub.Run(ctx, receiver) }()

	publisher := NewEventPublisher(c, testNamespace, log.Discard())
	go func() { _ = publisher.Run(ctx) }()

	bus := event.NewBus(testNamespace, log.Discard())
	bus.Register(publisher)
	bus.Publish(message.NewMessageArrived("u1", "a/b", []byte("hello")))

	select {
	case evt := <-received:
		assert.Equal(t, message.MessageArrived, evt.Kind)
		assert.Equal(t, "u1", evt.RequestID)
		assert.Equal(t, []byte("hello"), evt.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the relayed event")
	}
}

// stalledClient returns a client whose server accepts connections but never
// answers.
func stalledClient(t *testing.T, buffer int) *Client {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	cfg := &config.RedisConfig{
		EventBuffer:  buffer,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         ln.Addr().String(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Client{rdb: rdb, cfg: cfg, log: log.Discard()}
}

func TestEventPublisherDoesNotBlockTheBus(t *testing.T) {
	c := stalledClient(t, 2)
	publisher := NewEventPublisher(c, testNamespace, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = publisher.Run(ctx)
	}()

	bus := event.NewBus(testNamespace, log.Discard())
	bus.Register(publisher)

	delivered := make(chan string, 8)
	bus.Register(event.ListenerFunc(func(evt message.Event) { delivered <- evt.RequestID }))

	start := time.Now()
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		bus.Publish(message.NewConnectionSuccess(id))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	for _, want := range []string{"r1", "r2", "r3", "r4", "r5"} {
		select {
		case got := <-delivered:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("listener after the publisher did not get %s", want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestEventPublisherDropsWhenQueueFull(t *testing.T) {
	c := stalledClient(t, 2)
	publisher := NewEventPublisher(c, testNamespace, log.Discard())

	for _, id := range []string{"r1", "r2", "r3"} {
		publisher.OnEvent(message.NewConnectionSuccess(id))
	}
	require.Len(t, publisher.events, 2)
	assert.Equal(t, "r1", (<-publisher.events).RequestID)
	assert.Equal(t, "r2", (<-publisher.events).RequestID)
}
