package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// StatusHandler is invoked for every message received on a subscribed status
// topic. Receivers must tolerate duplicates — delivery is at-most-once per
// publication (spec §4.2).
type StatusHandler func(topic string, payload []byte)

// Client wraps a paho MQTT connection with the topic-addressing and
// reconnection semantics spec §4.2 requires: durable subscriptions that are
// restored after a broker-address change, and a bounded linear backoff on
// connection loss that never terminates the agent.
type Client struct {
	mu         sync.Mutex
	conn       mqtt.Client
	opts       Options
	topics     map[string]byte // current subscription set
	connected  atomic.Bool
	log        zerolog.Logger
	handler    atomic.Value // StatusHandler
	reconnects atomic.Int64
}

// Options configures a Client.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Log            zerolog.Logger
	MaxReconnects  int           // 0 = unlimited
	ReconnectDelay time.Duration // base linear backoff step
}

// Connect dials the broker and establishes the client. The initial topic set
// is empty; callers add subscriptions with Subscribe/SetSubscriptions.
func Connect(opts Options) (*Client, error) {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = time.Second
	}
	c := &Client{
		opts:   opts,
		topics: make(map[string]byte),
		log:    opts.Log,
	}
	c.handler.Store(StatusHandler(nil))

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(opts.ReconnectDelay).
		SetOrderMatters(true). // per-module publication order must be preserved (spec §5)
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		mqttOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		mqttOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(mqttOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

// SetStatusHandler installs the callback invoked for every received message.
func (c *Client) SetStatusHandler(h StatusHandler) {
	c.handler.Store(h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.mu.Lock()
	filters := make(map[string]byte, len(c.topics))
	for t, qos := range c.topics {
		filters[t] = qos
	}
	c.mu.Unlock()

	if len(filters) == 0 {
		c.log.Info().Msg("mqtt connected, no subscriptions pending")
		return
	}
	c.log.Info().Int("topics", len(filters)).Msg("mqtt connected, resubscribing")
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt resubscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	n := c.reconnects.Add(1)
	c.log.Warn().Err(err).Int64("attempt", n).Msg("mqtt connection lost, reconnecting with backoff")
	if c.opts.MaxReconnects > 0 && int(n) > c.opts.MaxReconnects {
		c.log.Error().Int("max", c.opts.MaxReconnects).Msg("mqtt reconnect attempts exhausted; will keep retrying in background, agent does not exit")
	}
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if h, _ := c.handler.Load().(StatusHandler); h != nil {
		h(msg.Topic(), msg.Payload())
	}
}

// Subscribe adds a topic to the durable subscription set and subscribes
// immediately if connected.
func (c *Client) Subscribe(topic string) error {
	c.mu.Lock()
	c.topics[topic] = 0
	c.mu.Unlock()
	if !c.connected.Load() {
		return nil
	}
	token := c.conn.Subscribe(topic, 0, nil)
	token.Wait()
	return token.Error()
}

// Unsubscribe removes a topic from the durable subscription set.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
	if !c.connected.Load() {
		return nil
	}
	token := c.conn.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// SetSubscriptions atomically replaces the durable subscription set,
// unsubscribing topics no longer wanted and subscribing new ones — the
// group-change semantics of spec §4.2 ("unsubscribe the old group topic and
// subscribe the new one atomically, no controller coordination required").
func (c *Client) SetSubscriptions(topics []string) error {
	want := make(map[string]bool, len(topics))
	for _, t := range topics {
		want[t] = true
	}

	c.mu.Lock()
	var toAdd, toRemove []string
	for t := range want {
		if _, ok := c.topics[t]; !ok {
			toAdd = append(toAdd, t)
		}
	}
	for t := range c.topics {
		if !want[t] {
			toRemove = append(toRemove, t)
		}
	}
	for _, t := range toAdd {
		c.topics[t] = 0
	}
	for _, t := range toRemove {
		delete(c.topics, t)
	}
	c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	for _, t := range toRemove {
		token := c.conn.Unsubscribe(t)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", t, err)
		}
	}
	for _, t := range toAdd {
		token := c.conn.Subscribe(t, 0, nil)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// PublishCommand publishes a command envelope addressed to selector.
func (c *Client) PublishCommand(selector string, cmd Command) error {
	wire, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.publish(CommandTopic(selector), []byte(wire))
}

// PublishStatus publishes a status envelope for moduleID.
func (c *Client) PublishStatus(moduleID string, status Status) error {
	payload, err := status.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return c.publish(StatusTopic(moduleID), payload)
}

func (c *Client) publish(topic string, payload []byte) error {
	token := c.conn.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Rebuild tears down the connection with zero linger and reconnects to a new
// broker address, restoring the recorded subscription set — the
// controller-change reconnection path of spec §4.2.
func (c *Client) Rebuild(brokerURL string) error {
	c.conn.Disconnect(0)
	c.opts.BrokerURL = brokerURL

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(c.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(c.opts.ReconnectDelay).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)
	if c.opts.Username != "" {
		mqttOpts.SetUsername(c.opts.Username)
	}
	if c.opts.Password != "" {
		mqttOpts.SetPassword(c.opts.Password)
	}

	c.conn = mqtt.NewClient(mqttOpts)
	token := c.conn.Connect()
	token.Wait()
	return token.Error()
}

// Close disconnects cleanly.
func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(250)
}
