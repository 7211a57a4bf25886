package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vesaa/cncmate/internal/metrics"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/realtime"
)

// SnapshotStore is the read side the aggregator needs.
type SnapshotStore interface {
	Snapshot(ctx context.Context, now time.Time) (*models.FleetSnapshot, error)
	CreateShiftReport(ctx context.Context, day time.Time) (*models.ShiftReport, error)
}

type AggregatorOptions struct {
	Schedule string // default "@every 5s"
	// LegacyEvents also emits machines_update and stats_update each tick
	// for clients that predate dashboard_update.
	LegacyEvents bool
	// ShiftReportSchedule writes yesterday's report; empty disables it.
	ShiftReportSchedule string
	Metrics             *metrics.Metrics
}

// Aggregator periodically pushes the full fleet snapshot to every client.
type Aggregator struct {
	store SnapshotStore
	out   Broadcaster
	opts  AggregatorOptions
	now   func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewAggregator(st SnapshotStore, out Broadcaster, opts AggregatorOptions) *Aggregator {
	if opts.Schedule == "" {
		opts.Schedule = "@every 5s"
	}
	return &Aggregator{store: st, out: out, opts: opts, now: time.Now}
}

func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return fmt.Errorf("aggregator already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := newScheduler("aggregator")
	if _, err := c.AddFunc(a.opts.Schedule, func() { a.Tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("aggregator schedule: %w", err)
	}
	if a.opts.ShiftReportSchedule != "" {
		if _, err := c.AddFunc(a.opts.ShiftReportSchedule, func() { a.ReportShift(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("shift report schedule: %w", err)
		}
	}
	c.Start()
	a.cron, a.cancel = c, cancel
	log.Printf("[aggregator] broadcasting snapshots %s", a.opts.Schedule)
	return nil
}

// Stop cancels the schedule and waits for a running tick.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	c, cancel := a.cron, a.cancel
	a.cron, a.cancel = nil, nil
	a.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// Tick reads one snapshot and broadcasts it. A failed read skips the tick.
func (a *Aggregator) Tick(ctx context.Context) error {
	snap, err := a.store.Snapshot(ctx, a.now())
	if err != nil {
		a.opts.Metrics.AggregatorFailed()
		log.Printf("[aggregator] tick skipped: %v", err)
		return err
	}
	a.out.Broadcast(realtime.DashboardUpdate(snap))
	if a.opts.LegacyEvents {
		a.out.Broadcast(realtime.MachinesUpdate(snap.Machines, snap.Timestamp))
		a.out.Broadcast(realtime.StatsUpdate(snap.DashboardStats, snap.Timestamp))
	}
	return nil
}

// ReportShift stores the report for the day before now.
func (a *Aggregator) ReportShift(ctx context.Context) (*models.ShiftReport, error) {
	day := a.now().AddDate(0, 0, -1)
	report, err := a.store.CreateShiftReport(ctx, day)
	if err != nil {
		log.Printf("[aggregator] shift report for %s: %v", day.Format(time.DateOnly), err)
		return nil, err
	}
	log.Printf("[aggregator] shift report %s: %d jobs, %.2f%% quality",
		day.Format(time.DateOnly), report.TotalJobs, report.QualityRate)
	return report, nil
}
