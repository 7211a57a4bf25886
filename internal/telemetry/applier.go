package telemetry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/vesaa/cncmate/internal/metrics"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/realtime"
	"github.com/vesaa/cncmate/internal/store"
)

// MachineStore is the part of the store the applier writes through.
type MachineStore interface {
	UpdateMachineTelemetry(ctx context.Context, id string, fields map[string]any, at time.Time) error
}

// Broadcaster delivers events to live connections.
type Broadcaster interface {
	Broadcast(ev realtime.Event)
}

type ApplierOptions struct {
	Shards  int // worker count; samples for one machine always share a worker
	Queue   int // per-shard buffer
	Metrics *metrics.Metrics
}

// Applier turns samples into a persisted column update followed by a
// machine_update broadcast. Samples are partitioned by machine ID across
// FIFO workers, so one machine's persist-then-broadcast steps never
// interleave while different machines proceed in parallel.
type Applier struct {
	store   MachineStore
	out     Broadcaster
	metrics *metrics.Metrics
	shards  []chan Sample
	now     func() time.Time

	mu      sync.RWMutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewApplier(st MachineStore, out Broadcaster, opts ApplierOptions) *Applier {
	if opts.Shards <= 0 {
		opts.Shards = 8
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	a := &Applier{
		store:   st,
		out:     out,
		metrics: opts.Metrics,
		shards:  make([]chan Sample, opts.Shards),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for i := range a.shards {
		a.shards[i] = make(chan Sample, opts.Queue)
	}
	return a
}

// Start launches one worker per shard. ctx bounds the store calls. An
// applier may be started again after Stop.
func (a *Applier) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	select {
	case <-a.stop:
		a.stop = make(chan struct{})
	default:
	}
	for i := range a.shards {
		a.wg.Add(1)
		go a.work(ctx, a.shards[i], a.stop)
	}
	a.running = true
	log.Printf("[applier] started %d workers", len(a.shards))
}

// Stop ends the workers after their current sample. Samples still queued
// are applied by the next Start.
func (a *Applier) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.running = false
	log.Printf("[applier] stopped")
}

func (a *Applier) stopCh() chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stop
}

// Submit queues s on its machine's shard. It blocks while the shard is
// full and fails with ctx.Err() or ErrStopped.
func (a *Applier) Submit(ctx context.Context, s Sample) error {
	if s.At.IsZero() {
		s.At = a.now()
	}
	stop := a.stopCh()
	select {
	case <-stop:
		a.metrics.SampleDropped("stopped")
		return ErrStopped
	default:
	}

	a.metrics.SampleReceived(sourceName(s))
	select {
	case a.shardFor(s.MachineID) <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		a.metrics.SampleDropped("stopped")
		return ErrStopped
	}
}

// TrySubmit queues s without waiting. A full shard drops the sample with
// ErrQueueFull.
func (a *Applier) TrySubmit(s Sample) error {
	if s.At.IsZero() {
		s.At = a.now()
	}
	stop := a.stopCh()
	select {
	case <-stop:
		a.metrics.SampleDropped("stopped")
		return ErrStopped
	default:
	}

	a.metrics.SampleReceived(sourceName(s))
	select {
	case a.shardFor(s.MachineID) <- s:
		return nil
	default:
		a.metrics.SampleDropped("queue_full")
		return ErrQueueFull
	}
}

func (a *Applier) shardFor(machineID string) chan Sample {
	h := fnv.New32a()
	h.Write([]byte(machineID))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

func (a *Applier) work(ctx context.Context, in <-chan Sample, stop <-chan struct{}) {
	defer a.wg.Done()
	for {
		select {
		case <-stop:
			return
		case s := <-in:
			if _, err := a.Apply(ctx, s); err != nil {
				log.Printf("[applier] %s/%s from %s dropped: %v", s.MachineID, s.Metric, sourceName(s), err)
			}
		}
	}
}

// Apply runs one sample synchronously. It reports whether an event was
// broadcast. An unknown machine is a silent no-op; invalid input and store
// failures return an error and broadcast nothing.
func (a *Applier) Apply(ctx context.Context, s Sample) (bool, error) {
	start := time.Now()
	u, err := Normalize(s.Metric, s.Value)
	if err != nil {
		a.metrics.SampleDropped("invalid")
		return false, err
	}
	at := s.At
	if at.IsZero() {
		at = a.now()
	}

	err = a.store.UpdateMachineTelemetry(ctx, s.MachineID, map[string]any{u.Metric: u.Value}, at)
	if errors.Is(err, store.ErrNotFound) {
		a.metrics.SampleDropped("unknown_machine")
		return false, nil
	}
	if err != nil {
		a.metrics.SampleDropped("store_error")
		return false, fmt.Errorf("persisting %s: %w", u.Metric, err)
	}

	a.out.Broadcast(realtime.MachineUpdate(s.MachineID, u.Metric, u.Value, at))
	a.metrics.SampleApplied(u.Metric, time.Since(start))
	return true, nil
}

// ApplyStatus validates status and queues it like any other sample.
// Used by the REST status endpoint so manual changes share the machine's
// ordering with live telemetry.
func (a *Applier) ApplyStatus(ctx context.Context, machineID string, status models.MachineStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}
	return a.Submit(ctx, Sample{
		MachineID: machineID,
		Metric:    MetricStatus,
		Value:     string(status),
		Source:    "api",
	})
}

func sourceName(s Sample) string {
	if s.Source == "" {
		return "unknown"
	}
	return s.Source
}
