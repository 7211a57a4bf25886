package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vesaa/cncmate/internal/config"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/realtime"
	"github.com/vesaa/cncmate/internal/store"
)

// recorder is a Broadcaster that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Broadcast(ev realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Event(nil), r.events...)
}

// sinkFunc adapts a function to Sink.
type sinkFunc func(ctx context.Context, s Sample) error

func (f sinkFunc) Submit(ctx context.Context, s Sample) error { return f(ctx, s) }

// collector is a Sink that keeps every sample.
type collector struct {
	mu      sync.Mutex
	samples []Sample
}

func (c *collector) Submit(_ context.Context, s Sample) error {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func (c *collector) all() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sample(nil), c.samples...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addMachine(t *testing.T, s *store.Store, id string, status models.MachineStatus) {
	t.Helper()
	m := &models.Machine{ID: id, Name: "Machine " + id, Type: "CNC Mill", Status: status, Temperature: 40, RPM: 1200}
	if err := s.CreateMachine(context.Background(), m); err != nil {
		t.Fatalf("creating machine %s: %v", id, err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
