package mqtt

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/log"
)

// forbiddenPrefix marks topics the test broker refuses to subscribe
const forbiddenPrefix = "forbidden/"

// aclHook accepts every client and refuses subscriptions under forbiddenPrefix
type aclHook struct {
	mochi.HookBase
}

func (h *aclHook) ID() string { return "test-acl" }

func (h *aclHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mochi.OnConnectAuthenticate, mochi.OnACLCheck}, []byte{b})
}

func (h *aclHook) OnConnectAuthenticate(_ *mochi.Client, _ packets.Packet) bool {
	return true
}

func (h *aclHook) OnACLCheck(_ *mochi.Client, topic string, _ bool) bool {
	return !strings.HasPrefix(topic, forbiddenPrefix)
}

// startBroker runs an in-process broker on a free local port and returns
// it with its URL.
func startBroker(t *testing.T) (*mochi.Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	server := mochi.New(&mochi.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(aclHook), nil); err != nil {
		t.Fatalf("failed to add hook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "test-tcp", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("failed to add listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("failed to serve: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	return server, "tcp://" + addr
}

// testMQTTConfig returns transport settings with short timeouts
func testMQTTConfig() *config.MQTTConfig {
	return &config.MQTTConfig{
		ConnectTimeout:       5 * time.Second,
		WriteTimeout:         5 * time.Second,
		SubscribeTimeout:     5 * time.Second,
		DisconnectQuiesce:    100,
		KeepAlive:            30 * time.Second,
		PingTimeout:          5 * time.Second,
		MaxReconnectInterval: time.Second,
		AutoReconnect:        true,
		CleanSession:         true,
	}
}

func testTransport() *Transport {
	return NewTransport(testMQTTConfig(), log.Discard())
}
