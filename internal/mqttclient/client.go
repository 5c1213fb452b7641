package mqttclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// Client publishes job lifecycle events as JSON under a topic prefix.
type Client struct {
	conn        mqtt.Client
	topicPrefix string
	connected   atomic.Bool
	log         zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topicPrefix: strings.Trim(opts.TopicPrefix, "/"),
		log:         opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic_prefix", c.topicPrefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish marshals payload to JSON and publishes it at QoS 1 to
// {prefix}/{subtopic}.
func (c *Client) Publish(subtopic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mqtt payload: %w", err)
	}
	topic := Topic(c.topicPrefix, subtopic)
	token := c.conn.Publish(topic, 1, false, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	c.log.Debug().Str("topic", topic).Int("payload_size", len(b)).Msg("mqtt event published")
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// Topic joins prefix and subtopic, skipping empty parts.
func Topic(prefix, subtopic string) string {
	var parts []string
	for _, p := range []string{prefix, subtopic} {
		p = strings.Trim(p, "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}
