package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/mqtt-session/internal/client"
	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/message"
)

func TestExpectation(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		cmd    message.Command
		events []message.Event
		done   bool
		failed bool
	}{
		{"connect success", message.Command{Kind: message.Connect, RequestID: "r"},
			[]message.Event{message.NewConnectionSuccess("r")}, true, false},
		{"connect failure", message.Command{Kind: message.Connect, RequestID: "r"},
			[]message.Event{message.NewException("r", boom)}, true, true},
		{"disconnect", message.Command{Kind: message.Disconnect, RequestID: "r"},
			[]message.Event{message.NewConnectionStatus("r", false)}, true, false},
		{"status", message.Command{Kind: message.CheckConnectionStatus, RequestID: "r"},
			[]message.Event{message.NewConnectionStatus("r", true)}, true, false},
		{"publish", message.Command{Kind: message.Publish, RequestID: "r"},
			[]message.Event{message.NewPublishSuccess("r", "t")}, true, false},
		{"subscribe waits for every topic", message.Command{Kind: message.Subscribe, RequestID: "r", Topics: []string{"a", "b"}},
			[]message.Event{message.NewSubscriptionSuccess("r", "a", 0)}, false, false},
		{"subscribe partial failure", message.Command{Kind: message.Subscribe, RequestID: "r", Topics: []string{"a", "b"}},
			[]message.Event{message.NewSubscriptionSuccess("r", "a", 0), message.NewSubscriptionError("r", "b", boom)}, true, true},
		{"subscribe without topics", message.Command{Kind: message.Subscribe, RequestID: "r"},
			[]message.Event{message.NewSubscriptionError("r", "", boom)}, true, true},
		{"connect and subscribe", message.Command{Kind: message.ConnectAndSubscribe, RequestID: "r", Topics: []string{"a"}},
			[]message.Event{message.NewConnectionSuccess("r"), message.NewSubscriptionSuccess("r", "a", 1)}, true, false},
		{"connect and subscribe still subscribing", message.Command{Kind: message.ConnectAndSubscribe, RequestID: "r", Topics: []string{"a"}},
			[]message.Event{message.NewConnectionSuccess("r")}, false, false},
		{"connect and subscribe connect failure", message.Command{Kind: message.ConnectAndSubscribe, RequestID: "r", Topics: []string{"a"}},
			[]message.Event{message.NewException("r", boom)}, true, true},
		{"connect ignores replayed subscriptions", message.Command{Kind: message.Connect, RequestID: "r"},
			[]message.Event{message.NewSubscriptionSuccess("r", "old", 1)}, false, false},
		{"connect ignores replay failures", message.Command{Kind: message.Connect, RequestID: "r"},
			[]message.Event{message.NewSubscriptionError("r", "old", boom), message.NewConnectionSuccess("r")}, true, false},
		{"connect and subscribe ignores replay before connecting", message.Command{Kind: message.ConnectAndSubscribe, RequestID: "r", Topics: []string{"a"}},
			[]message.Event{message.NewSubscriptionSuccess("r", "old", 1), message.NewConnectionSuccess("r")}, false, false},
		{"connect and subscribe after replay", message.Command{Kind: message.ConnectAndSubscribe, RequestID: "r", Topics: []string{"a"}},
			[]message.Event{
				message.NewSubscriptionError("r", "old", boom),
				message.NewConnectionSuccess("r"),
				message.NewSubscriptionSuccess("r", "a", 1),
			}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := newExpectation(tt.cmd)
			var done bool
			for _, evt := range tt.events {
				var matched bool
				matched, done = exp.observe(evt)
				require.True(t, matched)
			}
			assert.Equal(t, tt.done, done)
			assert.Equal(t, tt.failed, exp.failed)
		})
	}
}

func TestExpectationIgnoresOtherRequests(t *testing.T) {
	exp := newExpectation(message.Command{Kind: message.Connect, RequestID: "mine"})
	matched, done := exp.observe(message.NewConnectionSuccess("theirs"))
	assert.False(t, matched)
	assert.False(t, done)
}

func TestTimeoutMessage(t *testing.T) {
	disconnect := newExpectation(message.Command{Kind: message.Disconnect, RequestID: "r1"})
	assert.Equal(t,
		"no complete outcome for r1 within 2s (a session that is not connected does not answer disconnect; check with status)",
		timeoutMessage(disconnect, 2*time.Second))

	publish := newExpectation(message.Command{Kind: message.Publish, RequestID: "r2"})
	assert.Equal(t, "no complete outcome for r2 within 2s", timeoutMessage(publish, 2*time.Second))
}

func TestFormatEvent(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		evt  message.Event
		want string
	}{
		{message.NewConnectionSuccess("r1"), "connectionSuccess r1"},
		{message.NewConnectionStatus("r2", true), "connectionStatus r2 connected=true"},
		{message.NewSubscriptionSuccess("r3", "a/b", 1), "subscriptionSuccess r3 topic=a/b qos=1"},
		{message.NewMessageArrived("u", "a/b", []byte("hi")), `messageArrived u topic=a/b payload="hi"`},
		{message.NewException("r4", errors.New("boom")), "exception r4 error=boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatEvent(tt.evt))
	}
}

type recorder struct {
	cmds []message.Command
}

func (r *recorder) Submit(cmd message.Command) string {
	r.cmds = append(r.cmds, cmd)
	return cmd.RequestID
}

func TestIssue(t *testing.T) {
	cfg := &config.Config{MQTT: config.MQTTConfig{
		Broker:   "tcp://b:1883",
		ClientID: "ctl",
		Topics:   []string{"cfg/topic"},
		QoS:      1,
	}}

	tests := []struct {
		name  string
		args  []string
		stdin string
		check func(t *testing.T, cmd message.Command)
	}{
		{"connect", []string{"connect"}, "", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, message.Connect, cmd.Kind)
			assert.Equal(t, "tcp://b:1883", cmd.BrokerURL)
			assert.Equal(t, "ctl", cmd.ClientID)
		}},
		{"subscribe", []string{"subscribe", "a", "b"}, "", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, []string{"a", "b"}, cmd.Topics)
			assert.Equal(t, byte(1), cmd.QoS)
		}},
		{"connect and subscribe defaults", []string{"connect-and-subscribe"}, "", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, []string{"cfg/topic"}, cmd.Topics)
		}},
		{"publish argument", []string{"publish", "t", "hello"}, "", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, []byte("hello"), cmd.Payload)
		}},
		{"publish stdin", []string{"publish", "t"}, "from stdin", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, []byte("from stdin"), cmd.Payload)
		}},
		{"status", []string{"status"}, "", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, message.CheckConnectionStatus, cmd.Kind)
		}},
		{"disconnect", []string{"disconnect"}, "", func(t *testing.T, cmd message.Command) {
			assert.Equal(t, message.Disconnect, cmd.Kind)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			require.NoError(t, issue(client.New(r), cfg, tt.args, strings.NewReader(tt.stdin)))
			require.Len(t, r.cmds, 1)
			tt.check(t, r.cmds[0])
		})
	}
}

func TestIssueUsageErrors(t *testing.T) {
	cfg := &config.Config{}
	for _, args := range [][]string{{"connect"}, {"connect-and-subscribe"}, {"publish"}, {"explode"}} {
		r := &recorder{}
		err := issue(client.New(r), cfg, args, strings.NewReader(""))
		assert.ErrorIs(t, err, errUsage, "args %v", args)
		assert.Empty(t, r.cmds)
	}
}
