package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vesaa/cncmate/internal/config"
	"github.com/vesaa/cncmate/internal/idgen"
	"github.com/vesaa/cncmate/internal/telemetry"
)

const agentVersion = "v0.1.0"

// Transport delivers one machine's metrics to the server.
type Transport interface {
	Send(ctx context.Context, machineID string, metrics map[string]any) error
}

// TelemetryPayload is the body of POST /api/telemetry.
type TelemetryPayload struct {
	MachineID string         `json:"machineId"`
	Metrics   map[string]any `json:"metrics"`
}

// HTTPTransport posts to the server data plane. Every request carries
// Authorization: Bearer <token>.
type HTTPTransport struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPTransport targets joinAddr, e.g. "192.168.1.1:5001". A full URL
// is accepted too.
func NewHTTPTransport(joinAddr, token string) *HTTPTransport {
	base := joinAddr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &HTTPTransport{base: base, token: token, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *HTTPTransport) Send(ctx context.Context, machineID string, metrics map[string]any) error {
	return postJSON(ctx, t.client, t.base+"/api/telemetry", t.token, TelemetryPayload{MachineID: machineID, Metrics: metrics})
}

// MQTTTransport publishes each metric to its own topic, the layout the
// server's MQTT source subscribes to.
type MQTTTransport struct {
	client    telemetry.TokenPublisher
	namespace string
}

func NewMQTTTransport(client telemetry.TokenPublisher, namespace string) *MQTTTransport {
	return &MQTTTransport{client: client, namespace: namespace}
}

func (t *MQTTTransport) Send(ctx context.Context, machineID string, metrics map[string]any) error {
	for _, metric := range telemetry.MetricNames {
		v, ok := metrics[metric]
		if !ok {
			continue
		}
		topic := telemetry.TopicFor(t.namespace, machineID, metric)
		tok := t.client.Publish(topic, 0, false, formatValue(v))
		select {
		case <-tok.Done():
			if err := tok.Error(); err != nil {
				return fmt.Errorf("publishing %s: %w", topic, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Agent periodically collects a reading and sends it.
type Agent struct {
	MachineID string
	Interval  time.Duration
	Collector *Collector
	Transport Transport
}

// Run reports once immediately and then every Interval until ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	if a.Interval <= 0 {
		return fmt.Errorf("agent interval must be positive")
	}
	log.Printf("[agent] %s reporting as %s every %s", agentVersion, a.MachineID, a.Interval)

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	for {
		if err := a.ReportOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[agent] report error: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[agent] stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ReportOnce collects and sends a single reading.
func (a *Agent) ReportOnce(ctx context.Context) error {
	r, err := a.Collector.Collect(ctx)
	if err != nil {
		return err
	}
	return a.Transport.Send(ctx, a.MachineID, r.Metrics())
}

// Run builds an Agent from cfg and runs it until ctx ends.
//
// cfg.AgentJoinAddr is the data-plane address for the http transport.
// With agent_transport = mqtt the agent publishes to cfg.MQTTBroker instead.
func Run(ctx context.Context, cfg *config.Config) error {
	machineID := cfg.AgentMachineID
	if machineID == "" {
		machineID = DefaultMachineID()
	}

	var transport Transport
	switch cfg.AgentTransport {
	case "mqtt":
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(idgen.MustShort(cfg.MQTTClientPrefix + "agent_")).
			SetUsername(cfg.MQTTUsername).
			SetPassword(cfg.MQTTPassword).
			SetAutoReconnect(true).
			SetConnectRetry(true)
		client := mqtt.NewClient(opts)
		if tok := client.Connect(); tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
			return fmt.Errorf("connecting to MQTT broker %s: %w", cfg.MQTTBroker, tok.Error())
		}
		defer client.Disconnect(250)
		transport = NewMQTTTransport(client, cfg.MQTTNamespace)
		log.Printf("[agent] publishing to %s", cfg.MQTTBroker)
	default:
		transport = NewHTTPTransport(cfg.AgentJoinAddr, cfg.AgentOutboundToken)
		log.Printf("[agent] posting to %s", cfg.AgentJoinAddr)
	}

	a := &Agent{
		MachineID: machineID,
		Interval:  time.Duration(cfg.AgentInterval) * time.Second,
		Collector: NewCollector(),
		Transport: transport,
	}
	return a.Run(ctx)
}

// postJSON sends v as JSON via HTTP POST with the Bearer token in the
// Authorization header.
func postJSON(ctx context.Context, client *http.Client, url, bearerToken string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("server rejected token (401), check --token or agent_outbound_token in config")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// formatValue renders a metric as the plain-text MQTT payload.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
