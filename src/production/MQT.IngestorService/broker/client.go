package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

// QoSAtLeastOnce is the delivery quality requested for every subscription.
const QoSAtLeastOnce byte = 1

var ErrOpTimeout = errors.New("broker did not acknowledge in time")

// EventKind tells a publish apart from connection notifications.
type EventKind int

const (
	EventPublish EventKind = iota
	EventConnected
)

// Event is one item delivered by Poll.
type Event struct {
	Kind     EventKind
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Client is the broker connection shared by the bootstrapper, reconciler and
// pump. Subscribe, Unsubscribe and Poll are safe for concurrent use.
type Client struct {
	client    mqtt.Client
	events    chan Event
	lost      chan error
	done      chan struct{}
	closeOnce sync.Once
	opTimeout time.Duration
	logger    *logger.Logger

	mu   sync.RWMutex
	subs map[string]struct{}
}

// New prepares a paho client from configuration. Nothing is dialled until Connect.
func New(cfg config.MQTTConfig, brokerURL string, log *logger.Logger) (*Client, error) {
	c := newClient(cfg, log)

	opts, err := c.options(cfg, brokerURL)
	if err != nil {
		return nil, err
	}
	c.client = mqtt.NewClient(opts)
	return c, nil
}

func newClient(cfg config.MQTTConfig, log *logger.Logger) *Client {
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Client{
		events:    make(chan Event, buf),
		lost:      make(chan error, 1),
		done:      make(chan struct{}),
		opTimeout: opTimeout,
		logger:    log.WithComponent("broker"),
		subs:      make(map[string]struct{}),
	}
}

func (c *Client) options(cfg config.MQTTConfig, brokerURL string) (*mqtt.ClientOptions, error) {
	prefix := cfg.ClientIDPrefix
	if prefix == "" {
		prefix = "hive-bridge"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(prefix + "-" + uuid.NewString()).
		SetKeepAlive(cfg.KeepAlive).
		SetPingTimeout(cfg.PingTimeout).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetDefaultPublishHandler(c.onPublish).
		SetConnectionLostHandler(c.onConnectionLost).
		SetOnConnectHandler(c.onConnect)

	if cfg.BrokerUser != "" {
		opts.SetUsername(cfg.BrokerUser)
		opts.SetPassword(cfg.BrokerPass.Expose())
	}

	if cfg.UseTLS {
		tlsCfg, err := tlsConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// Connect dials the broker and waits until the session is up or ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	if c.client.IsConnected() {
		return nil
	}
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return &mqtmodels.ConnectionError{Source: "broker", Err: err}
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Disconnect closes the session and releases any handler blocked on delivery.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() { close(c.done) })
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// Subscribe requests topic at at-least-once quality and waits for the SUBACK.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	token := c.client.Subscribe(topic, QoSAtLeastOnce, nil)
	if err := c.wait(ctx, token); err != nil {
		return &mqtmodels.SubscriptionOpError{Op: "subscribe", Topic: topic, Err: err}
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code >= 0x80 {
			return &mqtmodels.SubscriptionOpError{
				Op:    "subscribe",
				Topic: topic,
				Err:   fmt.Errorf("broker refused with code 0x%02x", code),
			}
		}
	}

	c.mu.Lock()
	c.subs[topic] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops topic and waits for the UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	token := c.client.Unsubscribe(topic)
	if err := c.wait(ctx, token); err != nil {
		return &mqtmodels.SubscriptionOpError{Op: "unsubscribe", Topic: topic, Err: err}
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	return nil
}

// Subscriptions lists the topics currently held, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Poll blocks for the next broker event. A connection loss since the last
// call is returned as a *mqtmodels.ConnectionError.
func (c *Client) Poll(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case err := <-c.lost:
		return Event{}, err
	case ev := <-c.events:
		return ev, nil
	}
}

func (c *Client) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(c.opTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrOpTimeout
	}
}

func (c *Client) onPublish(_ mqtt.Client, m mqtt.Message) {
	ev := Event{
		Kind:     EventPublish,
		Topic:    m.Topic(),
		Payload:  m.Payload(),
		QoS:      m.Qos(),
		Retained: m.Retained(),
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.logger.Info("broker connected")
	select {
	case c.events <- Event{Kind: EventConnected}:
	default:
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.ErrorWithError(err, "broker connection lost")

	// The server may have dropped our session; the mirror is rebuilt by bootstrap.
	c.mu.Lock()
	c.subs = make(map[string]struct{})
	c.mu.Unlock()

	select {
	case c.lost <- &mqtmodels.ConnectionError{Source: "broker", Err: err}:
	default:
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read broker CA file: %w", err)
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
