package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ibs-source/mqtt-session/internal/event"
	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
)

// EventPublisher is a bus listener that forwards every event as a JSON
// envelope on the broadcast channel. OnEvent only queues the event; Run
// performs the PUBLISH calls so a slow Redis never stalls the session
// worker.
type EventPublisher struct {
	client  *Client
	channel string
	events  chan message.Event
	log     *log.Logger
}

var _ event.Listener = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher for the broadcast channel of namespace
func NewEventPublisher(c *Client, namespace string, logger *log.Logger) *EventPublisher {
	return &EventPublisher{
		client:  c,
		channel: message.BroadcastChannel(namespace),
		events:  make(chan message.Event, c.cfg.EventBuffer),
		log:     logger,
	}
}

// OnEvent queues evt for Run. When the queue is full the event is dropped
// and logged; pub/sub has no redelivery either way.
func (p *EventPublisher) OnEvent(evt message.Event) {
	select {
	case p.events <- evt:
	default:
		p.log.ErrorWithFields(logrus.Fields{"reqId": evt.RequestID, "type": evt.Kind.Type()},
			"Event queue full (%d), dropping event", cap(p.events))
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// still queued.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case evt := <-p.events:
			p.publish(evt)
		}
	}
}

func (p *EventPublisher) flush() {
	for {
		select {
		case evt := <-p.events:
			p.publish(evt)
		default:
			return
		}
	}
}

func (p *EventPublisher) publish(evt message.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.cfg.WriteTimeout)
	defer cancel()

	data, _ := message.EncodeEvent(p.channel, evt).MarshalJSON() // never fails
	if err := p.client.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.ErrorWithFields(logrus.Fields{"reqId": evt.RequestID, "type": evt.Kind.Type()},
			"Failed to publish event: %v", err)
	}
}

// EventSubscriber listens on the broadcast channel of a namespace
type EventSubscriber struct {
	client  *Client
	channel string
	log     *log.Logger
}

// NewEventSubscriber creates a subscriber for the broadcast channel of
// namespace
func NewEventSubscriber(c *Client, namespace string, logger *log.Logger) *EventSubscriber {
	return &EventSubscriber{
		client:  c,
		channel: message.BroadcastChannel(namespace),
		log:     logger,
	}
}

// Subscription is an active broadcast channel subscription
type Subscription struct {
	ps  *redis.PubSub
	log *log.Logger
}

// Subscribe subscribes and waits for Redis to confirm, so no event
// published after it returns is missed.
func (s *EventSubscriber) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := s.client.rdb.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	s.log.Debug("Subscribed to broadcast channel %s", s.channel)
	return &Subscription{ps: ps, log: s.log}, nil
}

// Run hands every payload to r until ctx is cancelled or the subscription
// is closed.
func (sub *Subscription) Run(ctx context.Context, r *event.Receiver) error {
	ch := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.ReceiveJSON([]byte(msg.Payload))
		}
	}
}

// Close ends the subscription
func (sub *Subscription) Close() error {
	return sub.ps.Close()
}
