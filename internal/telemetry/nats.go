package telemetry

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects mirror the MQTT topics with dots:
// <prefix>.machine.<machineId>.<metric>

// SubjectFor builds the ingestion subject of one machine metric.
func SubjectFor(prefix, machineID, metric string) string {
	return prefix + ".machine." + machineID + "." + metric
}

// ParseSubject splits an ingestion subject into machine ID and metric.
func ParseSubject(prefix, subject string) (machineID, metric string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != prefix || parts[1] != "machine" || parts[2] == "" {
		return "", "", fmt.Errorf("%w %q", ErrInvalidTopic, subject)
	}
	if !slices.Contains(MetricNames, parts[3]) {
		return "", "", fmt.Errorf("%w %q in subject %q", ErrUnknownMetric, parts[3], subject)
	}
	return parts[2], parts[3], nil
}

// NATSSource relays NATS messages as samples.
type NATSSource struct {
	url    string
	prefix string
	opts   []nats.Option

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// NewNATSSource connects lazily in Start. Extra options are appended to
// the reconnect defaults.
func NewNATSSource(url, prefix string, opts ...nats.Option) *NATSSource {
	if prefix == "" {
		prefix = "cncmate"
	}
	return &NATSSource{url: url, prefix: prefix, opts: opts}
}

func (n *NATSSource) Name() string { return "nats" }

func (n *NATSSource) Start(ctx context.Context, sink Sink) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return fmt.Errorf("nats source already started")
	}

	defaults := []nats.Option{
		nats.Name("cncmate-telemetry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(n.url, append(defaults, n.opts...)...)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", n.url, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	subject := n.prefix + ".machine.*.*"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		n.handle(ctx, sink, msg)
	})
	if err != nil {
		cancel()
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush so the subscription is live on the server before returning.
	if err := nc.Flush(); err != nil {
		cancel()
		nc.Close()
		return fmt.Errorf("flushing subscription: %w", err)
	}

	n.conn, n.sub, n.cancel = nc, sub, cancel
	log.Printf("[nats] subscribed to %s on %s", subject, n.url)
	return nil
}

func (n *NATSSource) handle(ctx context.Context, sink Sink, msg *nats.Msg) {
	machineID, metric, err := ParseSubject(n.prefix, msg.Subject)
	if err != nil {
		log.Printf("[nats] dropped: %v", err)
		return
	}
	err = sink.Submit(ctx, Sample{
		MachineID: machineID,
		Metric:    metric,
		Value:     strings.TrimSpace(string(msg.Data)),
		At:        time.Now(),
		Source:    "nats",
	})
	if err != nil {
		log.Printf("[nats] submit %s/%s: %v", machineID, metric, err)
	}
}

func (n *NATSSource) Stop() error {
	n.mu.Lock()
	nc, sub, cancel := n.conn, n.sub, n.cancel
	n.conn, n.sub, n.cancel = nil, nil, nil
	n.mu.Unlock()

	if nc == nil {
		return nil
	}
	cancel()
	_ = sub.Unsubscribe()
	nc.Close()
	return nil
}
