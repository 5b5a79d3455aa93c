package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Old-Lx/AquaManagement/internal/command"
	"github.com/Old-Lx/AquaManagement/internal/config"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("mqtt client not connected")

const (
	qosAtLeastOnce = byte(1)
	tokenTimeout   = 5 * time.Second
)

// MessageHandler receives raw control frames.
type MessageHandler func(topic string, payload []byte)

// Client publishes telemetry and listens on the control wildcard. The
// subscription is renewed on every (re)connect because sessions are clean.
type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	topic     string
	mu        sync.RWMutex
	connected bool

	handler       MessageHandler
	onStateChange func(connected bool)

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	c := newClient(cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.onConnectionLost(err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func newClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		topic:  command.Subscription(cfg.TopicNamespace),
		stopCh: make(chan struct{}),
	}
}

// SetMessageHandler sets the control frame handler. Call before Connect so the
// first subscription already routes to it.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// SetConnectionHandler observes connectivity changes.
func (c *Client) SetConnectionHandler(fn func(connected bool)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

// Connect waits for the initial connection and respects ctx and Disconnect.
// Paho keeps retrying in the background after Connect gives up.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// onConnect sets connected=true and subscribes.
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

func (c *Client) onConnect() {
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", c.cfg.MQTTBroker, "port", c.cfg.MQTTPort)

	if err := c.subscribe(); err != nil {
		c.logger.Error("mqtt subscribe failed", "topic", c.topic, "error", err)
	}
}

func (c *Client) onConnectionLost(err error) {
	c.setConnected(false)
	c.logger.Warn("mqtt connection lost", "error", err)
}

func (c *Client) subscribe() error {
	token := c.client.Subscribe(c.topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", c.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}

	c.logger.Info("subscribed to mqtt topic", "topic", c.topic, "qos", qosAtLeastOnce)
	return nil
}

func (c *Client) handleMessage(topic string, payload []byte) {
	c.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		c.logger.Warn("no handler for control frame", "topic", topic)
		return
	}
	h(topic, payload)
}

// Publish sends payload at QoS 1, not retained.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.logger.Debug("published telemetry", "topic", topic, "size", len(payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the connection. Idempotent.
// After Disconnect, Connect returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil && c.IsConnected() {
		token := c.client.Unsubscribe(c.topic)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding c.mu; paho quiesces in-flight work for 250ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	fn := c.onStateChange
	c.mu.Unlock()

	if changed && fn != nil {
		fn(v)
	}
}
