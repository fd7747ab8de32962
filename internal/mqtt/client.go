// Package mqtt wraps the paho client with the connect, publish and subscribe
// calls the telemetry processes need. Reconnect policy is not handled here:
// paho auto-reconnect is off, and a lost connection is reported on Lost().
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"enviro-telemetry/internal/config"

	paho "github.com/eclipse/paho.mqtt.golang"
)

var (
	// ErrRefused wraps a failed connect or subscribe.
	ErrRefused = errors.New("transport refused")
	// ErrDropped wraps the cause of a connection lost mid-session.
	ErrDropped = errors.New("transport dropped")
	// ErrNotConnected is returned by Publish and Subscribe without a live session.
	ErrNotConnected = errors.New("mqtt client not connected")
	// ErrStopped is returned by Connect after Disconnect.
	ErrStopped = errors.New("mqtt client stopped")
)

type Options struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	// KeepAlive defaults to 60s.
	KeepAlive time.Duration
	// ConnectTimeout bounds the TCP and CONNACK exchange; defaults to 10s.
	ConnectTimeout time.Duration
	// OpTimeout bounds publish and subscribe acknowledgements; defaults to 5s.
	OpTimeout time.Duration
}

func OptionsFromConfig(cfg config.MQTTConfig) Options {
	return Options{
		Broker:    cfg.Broker,
		Port:      cfg.Port,
		ClientID:  cfg.ClientID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		KeepAlive: cfg.KeepAlive,
	}
}

// MessageHandler receives one inbound message.
type MessageHandler func(topic string, payload []byte)

type Client struct {
	client    paho.Client
	opts      Options
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	lost chan error

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}

	c := &Client{
		opts:   opts,
		logger: logger.With("broker", brokerURL(opts), "client_id", opts.ClientID),
		lost:   make(chan error, 1),
		stopCh: make(chan struct{}),
	}

	po := clientOptions(opts)
	po.SetOnConnectHandler(func(_ paho.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected")
	})
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
		c.reportLost(fmt.Errorf("%w: %w", ErrDropped, err))
	})

	c.client = paho.NewClient(po)
	return c
}

func brokerURL(opts Options) string {
	return fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port)
}

func clientOptions(opts Options) *paho.ClientOptions {
	po := paho.NewClientOptions()
	po.AddBroker(brokerURL(opts))
	po.SetClientID(opts.ClientID)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(true)

	// Reconnects are driven by the session supervisor.
	po.SetAutoReconnect(false)
	po.SetConnectRetry(false)

	po.SetKeepAlive(opts.KeepAlive)
	po.SetPingTimeout(10 * time.Second)
	po.SetConnectTimeout(opts.ConnectTimeout)
	return po
}

// Connect performs one connection attempt. It waits for the broker's answer
// and respects ctx and Disconnect(). A refusal wraps ErrRefused.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// Discard a loss report left over from the previous session.
	select {
	case <-c.lost:
	default:
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("%w: mqtt connect: %w", ErrRefused, err)
			}
			// The connect handler may not have run yet.
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			c.client.Disconnect(0)
			return ErrStopped
		default:
		}
	}
}

// Publish sends one message and waits for the client to hand it off.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if err := c.wait(ctx, token, "publish", topic); err != nil {
		return err
	}

	c.logger.Debug("published message", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// Subscribe registers handler for topic. The subscription lasts for the
// current session only; callers subscribe again after every reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if err := c.wait(ctx, token, "subscribe", topic); err != nil {
		return fmt.Errorf("%w: %w", ErrRefused, err)
	}

	c.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (c *Client) wait(ctx context.Context, token paho.Token, op, topic string) error {
	timer := time.NewTimer(c.opts.OpTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s timeout for topic %s", op, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s %s: %w", op, topic, err)
	}
	return nil
}

// Lost delivers an error wrapping ErrDropped when an established connection
// goes away.
func (c *Client) Lost() <-chan error {
	return c.lost
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent; after Disconnect, Connect returns ErrStopped.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

// CloseSession drops the current connection but leaves the client usable;
// the next Connect starts a fresh session.
func (c *Client) CloseSession() {
	if c.client != nil {
		c.client.Disconnect(0)
	}
	c.setConnected(false)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) reportLost(err error) {
	select {
	case c.lost <- err:
	default:
	}
}
