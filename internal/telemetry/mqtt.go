package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vesaa/cncmate/internal/idgen"
)

// Topic layout: <namespace>/machine/<machineId>/<metric>, payload is the
// raw value as text.

// TopicFor builds the ingestion topic of one machine metric.
func TopicFor(namespace, machineID, metric string) string {
	return namespace + "/machine/" + machineID + "/" + metric
}

// CommandTopic is where commands for one machine are published.
func CommandTopic(namespace, machineID string) string {
	return TopicFor(namespace, machineID, "command")
}

// ParseTopic splits an ingestion topic into machine ID and metric.
func ParseTopic(namespace, topic string) (machineID, metric string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != namespace || parts[1] != "machine" || parts[2] == "" {
		return "", "", fmt.Errorf("%w %q", ErrInvalidTopic, topic)
	}
	if !slices.Contains(MetricNames, parts[3]) {
		return "", "", fmt.Errorf("%w %q in topic %q", ErrUnknownMetric, parts[3], topic)
	}
	return parts[2], parts[3], nil
}

type MQTTOptions struct {
	Broker       string
	Namespace    string
	ClientPrefix string
	Username     string
	Password     string
	// ConnectTimeout bounds the first connection attempt in Start.
	ConnectTimeout time.Duration
}

// MQTTSource relays broker messages as samples. The paho client
// reconnects on its own and resubscribes from the connect handler.
type MQTTSource struct {
	opts   MQTTOptions
	client mqtt.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewMQTTSource(opts MQTTOptions) *MQTTSource {
	if opts.Namespace == "" {
		opts.Namespace = "cncmate"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &MQTTSource{opts: opts}
}

func (m *MQTTSource) Name() string { return "mqtt" }

func (m *MQTTSource) Start(ctx context.Context, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return fmt.Errorf("mqtt source already started")
	}
	ctx, cancel := context.WithCancel(ctx)

	filters := make(map[string]byte, len(MetricNames))
	for _, metric := range MetricNames {
		filters[TopicFor(m.opts.Namespace, "+", metric)] = 0
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		m.HandleMessage(ctx, sink, msg)
	}

	clientID := idgen.MustShort(m.opts.ClientPrefix)
	opts := mqtt.NewClientOptions().
		AddBroker(m.opts.Broker).
		SetClientID(clientID).
		SetUsername(m.opts.Username).
		SetPassword(m.opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Printf("[mqtt] connected to %s as %s", m.opts.Broker, clientID)
			if tok := c.SubscribeMultiple(filters, handler); tok.Wait() && tok.Error() != nil {
				log.Printf("[mqtt] subscribe: %v", tok.Error())
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("[mqtt] connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(m.opts.ConnectTimeout) {
		// SetConnectRetry keeps trying in the background.
		log.Printf("[mqtt] broker %s not reachable yet, retrying", m.opts.Broker)
	} else if err := tok.Error(); err != nil {
		cancel()
		return fmt.Errorf("connecting to MQTT broker %s: %w", m.opts.Broker, err)
	}
	m.client, m.cancel = client, cancel
	return nil
}

// HandleMessage parses one broker message and submits it. Malformed
// topics, and samples a TrySink has no room for, are logged and dropped.
func (m *MQTTSource) HandleMessage(ctx context.Context, sink Sink, msg mqtt.Message) {
	machineID, metric, err := ParseTopic(m.opts.Namespace, msg.Topic())
	if err != nil {
		log.Printf("[mqtt] dropped: %v", err)
		return
	}
	sample := Sample{
		MachineID: machineID,
		Metric:    metric,
		Value:     strings.TrimSpace(string(msg.Payload())),
		At:        time.Now(),
		Source:    "mqtt",
	}
	// paho delivers in order on one goroutine; waiting here would stall it.
	if ts, ok := sink.(TrySink); ok {
		err = ts.TrySubmit(sample)
	} else {
		err = sink.Submit(ctx, sample)
	}
	if err != nil {
		log.Printf("[mqtt] submit %s/%s: %v", machineID, metric, err)
	}
}

func (m *MQTTSource) Stop() error {
	m.mu.Lock()
	client, cancel := m.client, m.cancel
	m.client, m.cancel = nil, nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	cancel()
	client.Disconnect(250)
	log.Printf("[mqtt] disconnected")
	return nil
}

// Publisher returns a command publisher sharing the source's connection,
// or nil before Start.
func (m *MQTTSource) Publisher() *CommandPublisher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	return NewCommandPublisher(m.client, m.opts.Namespace)
}

// TokenPublisher is the publishing half of mqtt.Client.
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Command is the JSON body sent to a machine's command topic.
type Command struct {
	Command   string    `json:"command"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandPublisher sends operator commands to machines over MQTT.
type CommandPublisher struct {
	client    TokenPublisher
	namespace string
	now       func() time.Time
}

func NewCommandPublisher(client TokenPublisher, namespace string) *CommandPublisher {
	return &CommandPublisher{client: client, namespace: namespace, now: time.Now}
}

// Publish sends {command, value, timestamp} at QoS 1 and waits for the
// broker acknowledgement or ctx.
func (p *CommandPublisher) Publish(ctx context.Context, machineID, command string, value any) error {
	if machineID == "" || command == "" {
		return fmt.Errorf("machine id and command are required")
	}
	payload, err := json.Marshal(Command{Command: command, Value: value, Timestamp: p.now()})
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}
	topic := CommandTopic(p.namespace, machineID)
	tok := p.client.Publish(topic, 1, false, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
