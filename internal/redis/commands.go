package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
)

// Submitter accepts decoded commands. The session worker satisfies it.
type Submitter interface {
	Submit(cmd message.Command) string
}

// CommandProducer appends commands to the command stream. It satisfies the
// caller facade's Submitter, so a client in another process can drive the
// worker.
type CommandProducer struct {
	client  *Client
	stream  string
	channel string
}

// NewCommandProducer creates a producer for the command channel of namespace
func NewCommandProducer(c *Client, namespace string) *CommandProducer {
	return &CommandProducer{
		client:  c,
		stream:  c.cfg.CommandStream,
		channel: message.CommandChannel(namespace),
	}
}

// Send appends cmd to the stream and returns its request id
func (p *CommandProducer) Send(ctx context.Context, cmd message.Command) (string, error) {
	cmd = cmd.WithRequestID()
	env := message.EncodeCommand(p.channel, cmd)

	err := p.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: env.Values(),
	}).Err()
	if err != nil {
		return cmd.RequestID, fmt.Errorf("xadd failed for %s: %w", cmd.RequestID, err)
	}
	return cmd.RequestID, nil
}

// Submit sends cmd bounded by the write timeout. A failure is logged; the
// request id is returned either way and no event will ever carry it.
func (p *CommandProducer) Submit(cmd message.Command) string {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.cfg.WriteTimeout)
	defer cancel()

	id, err := p.Send(ctx, cmd)
	if err != nil {
		p.client.log.ErrorWithFields(logrus.Fields{"reqId": id}, "Failed to send command: %v", err)
	}
	return id
}

// CommandConsumer reads the command stream through the consumer group and
// submits every decoded command. Entries are acknowledged and deleted once
// handed over; malformed ones are logged and dropped the same way.
type CommandConsumer struct {
	client    *Client
	submitter Submitter
	channel   string
	stream    string
	group     string
	consumer  string
	log       *log.Logger
}

// NewCommandConsumer creates a consumer for the command channel of namespace
func NewCommandConsumer(c *Client, namespace string, s Submitter, logger *log.Logger) *CommandConsumer {
	return &CommandConsumer{
		client:    c,
		submitter: s,
		channel:   message.CommandChannel(namespace),
		stream:    c.cfg.CommandStream,
		group:     c.cfg.Group,
		consumer:  c.cfg.Consumer,
		log:       logger,
	}
}

// Run consumes until ctx is cancelled. Read errors are logged and retried
// after the configured backoff.
func (cc *CommandConsumer) Run(ctx context.Context) error {
	if err := cc.client.ensureGroup(ctx, cc.stream, cc.group); err != nil {
		return err
	}
	cc.log.Info("Consuming commands from stream '%s' as %s/%s", cc.stream, cc.group, cc.consumer)

	if err := cc.claimIdle(ctx); err != nil && ctx.Err() == nil {
		cc.log.Warn("Failed to claim idle commands: %v", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := cc.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cc.log.Error("Failed to read commands: %v", err)
			if !sleepCtx(ctx, cc.client.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			cc.handle(ctx, msg)
		}
	}
}

// ReadBatch fetches new entries with XREADGROUP, blocking up to the
// configured timeout
func (cc *CommandConsumer) ReadBatch(ctx context.Context) ([]redis.XMessage, error) {
	result, err := cc.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    cc.group,
		Consumer: cc.consumer,
		Streams:  []string{cc.stream, ">"},
		Count:    int64(cc.client.cfg.BatchSize),
		Block:    cc.client.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range result {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// claimIdle takes over entries another consumer read but never
// acknowledged, then hands them over like fresh ones.
func (cc *CommandConsumer) claimIdle(ctx context.Context) error {
	idle := cc.client.cfg.ClaimIdle
	if idle <= 0 {
		return nil
	}

	pending, err := cc.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: cc.stream,
		Group:  cc.group,
		Idle:   idle,
		Start:  "-",
		End:    "+",
		Count:  int64(cc.client.cfg.BatchSize),
	}).Result()
	if err != nil {
		if isNil(err) {
			return nil
		}
		return fmt.Errorf("xpending failed: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}

	claimed, err := cc.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   cc.stream,
		Group:    cc.group,
		Consumer: cc.consumer,
		MinIdle:  idle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim failed: %w", err)
	}

	cc.log.Info("Claimed %d idle commands", len(claimed))
	for _, msg := range claimed {
		cc.handle(ctx, msg)
	}
	return nil
}

func (cc *CommandConsumer) handle(ctx context.Context, msg redis.XMessage) {
	cmd, err := decodeEntry(cc.channel, msg)
	if err != nil {
		cc.log.WarnWithFields(logrus.Fields{"entry": msg.ID}, "Dropping command entry: %v", err)
	} else {
		cc.log.DebugWithFields(logrus.Fields{"entry": msg.ID, "reqId": cmd.RequestID}, "Submitting %s", cmd.Kind)
		cc.submitter.Submit(cmd)
	}

	if err := cc.AckAndDelete(ctx, msg.ID); err != nil {
		cc.log.Error("%v", err)
	}
}

// AckAndDelete acknowledges and deletes an entry from the command stream
func (cc *CommandConsumer) AckAndDelete(ctx context.Context, id string) error {
	if err := cc.client.rdb.XAck(ctx, cc.stream, cc.group, id).Err(); err != nil {
		return fmt.Errorf("xack failed for entry %s in stream %s: %w", id, cc.stream, err)
	}
	if err := cc.client.rdb.XDel(ctx, cc.stream, id).Err(); err != nil {
		return fmt.Errorf("xdel failed for entry %s in stream %s: %w", id, cc.stream, err)
	}
	return nil
}

func decodeEntry(channel string, msg redis.XMessage) (message.Command, error) {
	env, err := message.EnvelopeFromValues(msg.Values)
	if err != nil {
		return message.Command{}, err
	}
	return message.DecodeCommand(channel, env)
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
