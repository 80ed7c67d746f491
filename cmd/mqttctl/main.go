// Package main is a command line client for a session host reachable
// through Redis. It sends one command and prints the correlated events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibs-source/mqtt-session/internal/client"
	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/event"
	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
	"github.com/ibs-source/mqtt-session/internal/redis"
)

var timeout = flag.Duration("timeout", 10*time.Second, "How long to wait for the outcome events")

var errUsage = errors.New("usage")

const usageText = `Usage: mqttctl [flags] <command> [args]

Commands:
  connect                          connect to -mqtt-broker as -mqtt-client-id
  disconnect                       close the connection
  subscribe <topic>...             subscribe at -mqtt-qos
  connect-and-subscribe [topic]... connect, then subscribe (defaults to -mqtt-topics)
  publish <topic> [payload]        publish payload, or stdin when omitted
  status                           report whether the session is connected
  listen                           print every event until interrupted

disconnect on a session that is not connected produces no event and ends
with exit status 3 once -timeout expires; run status to tell the cases apart.

Flags:
`

func usage() {
	fmt.Fprint(flag.CommandLine.Output(), usageText)
	flag.PrintDefaults()
}

// sender submits through the Redis producer and keeps the last error
type sender struct {
	ctx      context.Context
	producer *redis.CommandProducer
	last     message.Command
	err      error
}

func (s *sender) Submit(cmd message.Command) string {
	s.last = cmd.WithRequestID()
	_, s.err = s.producer.Send(s.ctx, s.last)
	return s.last.RequestID
}

func run() int {
	flag.Usage = usage
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 2
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
		return 2
	}

	logger := log.NewWithOutput(os.Stderr, cfg.Session.LogLevel)

	rc, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	defer func() { _ = rc.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := subscribe(ctx, rc, cfg.Session.Namespace, logger)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}

	if args[0] == "listen" {
		listen(ctx, events)
		return 0
	}

	s := &sender{ctx: ctx, producer: redis.NewCommandProducer(rc, cfg.Session.Namespace)}
	if err := issue(client.New(s), cfg, args, os.Stdin); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			usage()
			return 2
		}
		logger.Error("%v", err)
		return 1
	}
	if s.err != nil {
		logger.Error("Failed to send %s: %v", s.last.Kind, s.err)
		return 1
	}

	fmt.Println(s.last.RequestID)
	return wait(ctx, events, newExpectation(s.last), *timeout)
}

// subscribe starts relaying broadcast events into the returned channel.
// It returns once Redis confirmed the subscription.
func subscribe(ctx context.Context, rc *redis.Client, namespace string, logger *log.Logger) (<-chan message.Event, error) {
	sub, err := redis.NewEventSubscriber(rc, namespace, logger).Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan message.Event, 64)
	receiver := event.NewReceiver(namespace, event.ListenerFunc(func(evt message.Event) {
		select {
		case events <- evt:
		case <-ctx.Done():
		}
	}), logger)

	go func() {
		defer func() { _ = sub.Close() }()
		if err := sub.Run(ctx, receiver); err != nil {
			logger.Error("Event subscription ended: %v", err)
		}
	}()
	return events, nil
}

// issue builds and submits the command named by args
func issue(c *client.Client, cfg *config.Config, args []string, stdin io.Reader) error {
	m := &cfg.MQTT
	opts := []client.Option{client.WithQoS(m.QoS), client.WithAutoResubscribe(m.AutoResubscribe)}

	switch args[0] {
	case "connect":
		if m.Broker == "" {
			return fmt.Errorf("%w: connect needs -mqtt-broker", errUsage)
		}
		c.Connect(m.Broker, m.ClientID, client.WithCredentials(m.Username, m.Password))
	case "disconnect":
		c.Disconnect()
	case "subscribe":
		c.Subscribe(args[1:], opts...)
	case "connect-and-subscribe":
		if m.Broker == "" {
			return fmt.Errorf("%w: connect-and-subscribe needs -mqtt-broker", errUsage)
		}
		topics := args[1:]
		if len(topics) == 0 {
			topics = m.Topics
		}
		opts = append(opts, client.WithCredentials(m.Username, m.Password))
		c.ConnectAndSubscribe(m.Broker, m.ClientID, topics, opts...)
	case "publish":
		if len(args) < 2 {
			return fmt.Errorf("%w: publish needs a topic", errUsage)
		}
		payload, err := publishPayload(args[2:], stdin)
		if err != nil {
			return err
		}
		c.Publish(args[1], payload, client.WithQoS(m.QoS))
	case "status":
		c.CheckConnectionStatus()
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return nil
}

func publishPayload(rest []string, stdin io.Reader) ([]byte, error) {
	if len(rest) > 0 {
		return []byte(rest[0]), nil
	}
	payload, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
	}
	return payload, nil
}

// wait prints the events of exp until they are complete. The exit code is
// 0 when every outcome succeeded, 1 on a failure and 3 on timeout.
func wait(ctx context.Context, events <-chan message.Event, exp *expectation, d time.Duration) int {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case evt := <-events:
			matched, done := exp.observe(evt)
			if !matched {
				continue
			}
			fmt.Println(formatEvent(evt))
			if done {
				if exp.failed {
					return 1
				}
				return 0
			}
		case <-timer.C:
			fmt.Fprintln(os.Stderr, timeoutMessage(exp, d))
			return 3
		case <-ctx.Done():
			return 1
		}
	}
}

func timeoutMessage(exp *expectation, d time.Duration) string {
	msg := fmt.Sprintf("no complete outcome for %s within %s", exp.requestID, d)
	if exp.kind == message.Disconnect {
		msg += " (a session that is not connected does not answer disconnect; check with status)"
	}
	return msg
}

func listen(ctx context.Context, events <-chan message.Event) {
	for {
		select {
		case evt := <-events:
			fmt.Println(formatEvent(evt))
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	os.Exit(run())
}
