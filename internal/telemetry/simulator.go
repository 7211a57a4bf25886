package telemetry

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vesaa/cncmate/internal/models"
)

// MachineLister supplies the IDs the simulator generates samples for.
type MachineLister interface {
	ListMachineIDs(ctx context.Context) ([]string, error)
}

// Range is a closed interval for one simulated metric.
type Range struct{ Min, Max float64 }

// SimulatedRanges are the value bounds of generated samples.
var SimulatedRanges = map[string]Range{
	MetricTemperature: {35, 60},
	MetricVibration:   {0, 5},
	MetricUsage:       {0, 100},
	MetricRPM:         {1000, 3000},
	MetricPower:       {5, 20},
}

// runningBias is the chance a generated status is "running".
const runningBias = 0.95

type SimulatorOptions struct {
	Schedule     string        // cron spec, default "@every 60s"
	InitialDelay time.Duration // one-shot burst after Start; 0 disables
	StatusRate   float64       // chance per machine per tick of a status sample
	Rand         *rand.Rand    // nil seeds from the clock
}

// Simulator synthesises plausible telemetry for every known machine.
// Draws are independent; no previous state is tracked.
type Simulator struct {
	machines MachineLister
	opts     SimulatorOptions

	randMu sync.Mutex
	rng    *rand.Rand

	mu     sync.Mutex
	cron   *cron.Cron
	timer  *time.Timer
	cancel context.CancelFunc
}

func NewSimulator(machines MachineLister, opts SimulatorOptions) *Simulator {
	if opts.Schedule == "" {
		opts.Schedule = "@every 60s"
	}
	rng := opts.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Simulator{machines: machines, opts: opts, rng: rng}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("simulator already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := newScheduler("sim")
	if _, err := c.AddFunc(s.opts.Schedule, func() { s.Tick(ctx, sink) }); err != nil {
		cancel()
		return fmt.Errorf("simulator schedule: %w", err)
	}
	c.Start()
	if s.opts.InitialDelay > 0 {
		s.timer = time.AfterFunc(s.opts.InitialDelay, func() { s.Tick(ctx, sink) })
	}
	s.cron, s.cancel = c, cancel
	log.Printf("[sim] generating telemetry %s", s.opts.Schedule)
	return nil
}

// Stop cancels the timers and waits for a running tick to finish.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	c, timer, cancel := s.cron, s.timer, s.cancel
	s.cron, s.timer, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	if timer != nil {
		timer.Stop()
	}
	cancel()
	<-c.Stop().Done()
	return nil
}

// Tick generates and submits one round of samples, returning how many
// were accepted.
func (s *Simulator) Tick(ctx context.Context, sink Sink) int {
	ids, err := s.machines.ListMachineIDs(ctx)
	if err != nil {
		log.Printf("[sim] listing machines: %v", err)
		return 0
	}
	n := 0
	for _, sample := range s.Generate(ids, time.Now()) {
		if err := sink.Submit(ctx, sample); err != nil {
			log.Printf("[sim] submit %s/%s: %v", sample.MachineID, sample.Metric, err)
			return n
		}
		n++
	}
	return n
}

// Generate draws one value per numeric metric for each id, plus a status
// sample with probability StatusRate.
func (s *Simulator) Generate(ids []string, now time.Time) []Sample {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	out := make([]Sample, 0, len(ids)*len(MetricNames))
	for _, id := range ids {
		for _, metric := range MetricNames {
			if metric == MetricStatus {
				continue
			}
			r := SimulatedRanges[metric]
			out = append(out, Sample{
				MachineID: id,
				Metric:    metric,
				Value:     r.Min + s.rng.Float64()*(r.Max-r.Min),
				At:        now,
				Source:    "simulator",
			})
		}
		if s.rng.Float64() < s.opts.StatusRate {
			out = append(out, Sample{
				MachineID: id,
				Metric:    MetricStatus,
				Value:     string(s.drawStatus()),
				At:        now,
				Source:    "simulator",
			})
		}
	}
	return out
}

func (s *Simulator) drawStatus() models.MachineStatus {
	if s.rng.Float64() < runningBias {
		return models.MachineRunning
	}
	return models.MachineStatuses[s.rng.IntN(len(models.MachineStatuses))]
}
