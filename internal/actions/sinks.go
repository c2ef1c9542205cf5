package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jamesprial/readings/internal/config"
	"github.com/jamesprial/readings/internal/safety"
)

// ErrCommandDenied is returned by GuardedCommands for a filtered command.
var ErrCommandDenied = errors.New("command not allowed")

// GuardedCommands applies a safety.Filter before forwarding to a sink.
type GuardedCommands struct {
	Sink   CommandSink
	Filter *safety.Filter
}

func (g GuardedCommands) SendCommand(ctx context.Context, command string) error {
	if !g.Filter.AllowsCommand(command) {
		return fmt.Errorf("%w: %q", ErrCommandDenied, safety.CommandVerb(command))
	}
	return g.Sink.SendCommand(ctx, command)
}

const defaultConsoleFormat = "say %s"

// ConsoleBroadcaster delivers broadcasts as a console command built from a
// format such as "say %s".
type ConsoleBroadcaster struct {
	sink   CommandSink
	format string
}

// NewConsoleBroadcaster returns a broadcaster writing through sink. A format
// without "%s" falls back to "say %s".
func NewConsoleBroadcaster(sink CommandSink, format string) *ConsoleBroadcaster {
	if !strings.Contains(format, "%s") {
		format = defaultConsoleFormat
	}
	return &ConsoleBroadcaster{sink: sink, format: format}
}

func (b *ConsoleBroadcaster) Broadcast(ctx context.Context, message string) error {
	return b.sink.SendCommand(ctx, strings.Replace(b.format, "%s", message, 1))
}

// publisher is the subset of mqtt.Client used for broadcasts.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTBroadcaster publishes broadcasts to an MQTT topic.
type MQTTBroadcaster struct {
	client  publisher
	topic   string
	source  string
	timeout time.Duration
	now     func() time.Time
}

type mqttMessage struct {
	Source  string    `json:"source"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

const mqttTimeout = 10 * time.Second

// NewMQTTBroadcaster connects to the broker in cfg. source identifies the
// node in published messages.
func NewMQTTBroadcaster(cfg config.MQTTConfig, source string, logger *slog.Logger) (*MQTTBroadcaster, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, options *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting", slog.String("client_id", options.ClientID))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(mqttTimeout); !ok {
		return nil, errors.New("timeout reached while connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	logger.Info("MQTT broadcaster connected",
		slog.String("broker", cfg.Broker),
		slog.String("topic", cfg.Topic),
	)
	return newMQTTBroadcaster(client, cfg.Topic, source), nil
}

func newMQTTBroadcaster(client publisher, topic, source string) *MQTTBroadcaster {
	return &MQTTBroadcaster{
		client:  client,
		topic:   topic,
		source:  source,
		timeout: mqttTimeout,
		now:     time.Now,
	}
}

func (b *MQTTBroadcaster) Broadcast(ctx context.Context, message string) error {
	payload, err := json.Marshal(mqttMessage{Source: b.source, Message: message, SentAt: b.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}

	token := b.client.Publish(b.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", b.topic, ctx.Err())
	case <-time.After(b.timeout):
		return fmt.Errorf("publish to %s: timed out", b.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBroadcaster) Close() {
	b.client.Disconnect(250)
}
