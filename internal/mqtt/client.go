package mqtt

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/log"
)

// subscribeFailure is the SUBACK return code for a refused subscription
const subscribeFailure byte = 0x80

// Transport dials paho-backed connections using the shared MQTT settings
type Transport struct {
	cfg *config.MQTTConfig
	log *log.Logger
}

// NewTransport creates a Dialer for the given transport settings
func NewTransport(cfg *config.MQTTConfig, logger *log.Logger) *Transport {
	return &Transport{cfg: cfg, log: logger}
}

// Client is one paho connection
type Client struct {
	client           mqtt.Client
	brokerURL        string
	connectTimeout   time.Duration
	writeTimeout     time.Duration
	subscribeTimeout time.Duration
	quiesce          uint
	cb               Callbacks
	reconnecting     atomic.Bool
	log              *log.Logger
}

// Dial creates a paho client for opts and connects it
func (t *Transport) Dial(opts ConnectOptions, cb Callbacks) (Conn, error) {
	c := &Client{
		brokerURL:        opts.BrokerURL,
		connectTimeout:   t.cfg.ConnectTimeout,
		writeTimeout:     t.cfg.WriteTimeout,
		subscribeTimeout: t.cfg.SubscribeTimeout,
		quiesce:          t.cfg.DisconnectQuiesce,
		cb:               cb,
		log:              t.log,
	}

	clientOpts, err := t.clientOptions(opts, c)
	if err != nil {
		return nil, err
	}
	c.client = mqtt.NewClient(clientOpts)

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// clientOptions builds the paho options and routes paho handlers to c
func (t *Transport) clientOptions(opts ConnectOptions, c *Client) (*mqtt.ClientOptions, error) {
	cfg := t.cfg
	logger := t.log

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	if opts.HasCredentials() {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}

	o.SetCleanSession(cfg.CleanSession)
	o.SetAutoReconnect(cfg.AutoReconnect)
	o.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	o.SetConnectTimeout(cfg.ConnectTimeout)
	o.SetWriteTimeout(cfg.WriteTimeout)
	o.SetKeepAlive(cfg.KeepAlive)
	o.SetPingTimeout(cfg.PingTimeout)

	// The session worker replays its own subscriptions after a reconnect
	o.SetResumeSubs(false)
	// Deliver callbacks in arrival order; handlers only enqueue
	o.SetOrderMatters(true)

	o.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if c.cb.MessageArrived != nil {
			c.cb.MessageArrived(msg.Topic(), msg.Payload())
		}
	})

	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection to %s lost: %v", opts.BrokerURL, err)
		if c.cb.ConnectionLost != nil {
			c.cb.ConnectionLost(err)
		}
	})

	o.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.reconnecting.Store(true)
		logger.Info("MQTT reconnecting to %s...", opts.BrokerURL)
	})

	o.SetOnConnectHandler(func(_ mqtt.Client) {
		reconnect := c.reconnecting.Swap(false)
		logger.Info("MQTT connected to %s (reconnect=%t)", opts.BrokerURL, reconnect)
		if c.cb.ConnectComplete != nil {
			c.cb.ConnectComplete(reconnect)
		}
	})

	// Configure TLS if enabled
	if cfg.TLSEnabled {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		o.SetTLSConfig(tlsConfig)
	}

	return o, nil
}

// connect performs one CONNECT round trip
func (c *Client) connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.connectTimeout) {
		return fmt.Errorf("%w: %s", ErrConnectTimeout, c.brokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.brokerURL, err)
	}
	return nil
}

// IsConnected reports whether the connection is currently usable
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Reconnect connects the existing client again. When paho is already
// retrying on its own the call returns immediately without error.
func (c *Client) Reconnect() error {
	return c.connect()
}

// Subscribe subscribes to topic and waits for the SUBACK. Inbound messages
// are delivered through Callbacks.MessageArrived.
func (c *Client) Subscribe(topic string, qos byte) error {
	token := c.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(c.subscribeTimeout) {
		return fmt.Errorf("%w: %s", ErrSubscribeTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subscribeFailure {
			return fmt.Errorf("%w: %s", ErrSubscriptionRejected, topic)
		}
	}
	return nil
}

// Publish sends payload to topic and waits until paho completes the flow
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("%w: cannot publish to %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.writeTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s failed: %w", topic, err)
	}
	return nil
}

// Disconnect closes the connection after the configured quiesce period. On
// a dropped connection it only stops paho's reconnect loop.
func (c *Client) Disconnect() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mqtt disconnect from %s panicked: %v", c.brokerURL, r)
		}
	}()

	if !c.client.IsConnectionOpen() {
		c.client.Disconnect(0)
		return nil
	}
	c.client.Disconnect(c.quiesce)
	return nil
}

// ForceDisconnect closes the connection without a quiesce period
func (c *Client) ForceDisconnect() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mqtt force disconnect from %s panicked: %v", c.brokerURL, r)
		}
	}()

	c.client.Disconnect(0)
	return nil
}
