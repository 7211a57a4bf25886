package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Service owns the live data path: one applier, its sources and the
// aggregator. It is built once by the host process and started and
// stopped explicitly.
type Service struct {
	Applier    *Applier
	Aggregator *Aggregator
	sources    []Source

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewService(applier *Applier, aggregator *Aggregator, sources ...Source) *Service {
	return &Service{Applier: applier, Aggregator: aggregator, sources: sources}
}

// Start launches the applier first so sources never submit into a queue
// nobody drains. A failing source stops everything started so far.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("telemetry service already running")
	}
	ctx, cancel := context.WithCancel(ctx)

	s.Applier.Start(ctx)
	var started []Source
	for _, src := range s.sources {
		if err := src.Start(ctx, s.Applier); err != nil {
			for _, st := range started {
				st.Stop()
			}
			s.Applier.Stop()
			cancel()
			return fmt.Errorf("starting %s source: %w", src.Name(), err)
		}
		started = append(started, src)
	}
	if s.Aggregator != nil {
		if err := s.Aggregator.Start(ctx); err != nil {
			for _, st := range started {
				st.Stop()
			}
			s.Applier.Stop()
			cancel()
			return err
		}
	}

	s.running, s.cancel = true, cancel
	log.Printf("[telemetry] running with %d source(s)", len(s.sources))
	return nil
}

// Stop halts the timers and sources, then the applier. In-flight store
// writes finish on their own.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	var errs []error
	if s.Aggregator != nil {
		s.Aggregator.Stop()
	}
	for _, src := range s.sources {
		if err := src.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", src.Name(), err))
		}
	}
	s.cancel()
	s.Applier.Stop()
	s.running = false
	log.Printf("[telemetry] stopped")
	return errors.Join(errs...)
}

// Source returns the named source, or nil.
func (s *Service) Source(name string) Source {
	for _, src := range s.sources {
		if src.Name() == name {
			return src
		}
	}
	return nil
}
