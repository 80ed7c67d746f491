// Package client is the caller-side entry point of the session. Every method
// builds one command, hands it to a Submitter and returns the request id the
// matching outcome events will carry.
package client

import (
	"encoding/json"
	"fmt"

	"github.com/ibs-source/mqtt-session/internal/message"
)

// Submitter accepts commands and returns their request ids. The in-process
// worker and the Redis command producer both satisfy it.
type Submitter interface {
	Submit(cmd message.Command) string
}

// Client issues session commands. It holds no state of its own and is safe
// for concurrent use when the Submitter is.
type Client struct {
	submitter Submitter
}

// New creates a client submitting to s
func New(s Submitter) *Client {
	return &Client{submitter: s}
}

// Connect opens the broker connection, or reconnects the existing one.
func (c *Client) Connect(brokerURL, clientID string, opts ...Option) string {
	return c.submit(message.Command{
		Kind:      message.Connect,
		BrokerURL: brokerURL,
		ClientID:  clientID,
	}, opts)
}

// Disconnect closes the broker connection and forgets auto-resubscribe
// topics.
func (c *Client) Disconnect() string {
	return c.submit(message.Command{Kind: message.Disconnect}, nil)
}

// Subscribe subscribes to topics at QoS 0 unless WithQoS says otherwise.
func (c *Client) Subscribe(topics []string, opts ...Option) string {
	return c.submit(message.Command{
		Kind:   message.Subscribe,
		Topics: topics,
	}, opts)
}

// ConnectAndSubscribe connects and, only if that succeeds, subscribes. All
// events share the returned request id.
func (c *Client) ConnectAndSubscribe(brokerURL, clientID string, topics []string, opts ...Option) string {
	return c.submit(message.Command{
		Kind:      message.ConnectAndSubscribe,
		BrokerURL: brokerURL,
		ClientID:  clientID,
		Topics:    topics,
	}, opts)
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte, opts ...Option) string {
	return c.submit(message.Command{
		Kind:    message.Publish,
		Topic:   topic,
		Payload: payload,
	}, opts)
}

// PublishJSON publishes v serialised as JSON. Nothing is submitted when v
// cannot be marshalled.
func (c *Client) PublishJSON(topic string, v any, opts ...Option) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for topic %s: %w", topic, err)
	}
	return c.Publish(topic, payload, opts...), nil
}

// CheckConnectionStatus asks for a ConnectionStatus event.
func (c *Client) CheckConnectionStatus() string {
	return c.submit(message.Command{Kind: message.CheckConnectionStatus}, nil)
}

func (c *Client) submit(cmd message.Command, opts []Option) string {
	for _, opt := range opts {
		opt(&cmd)
	}
	return c.submitter.Submit(cmd.WithRequestID())
}
