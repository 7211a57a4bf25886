// Package agent implements the CNCMate edge agent. It runs next to a
// machine controller, samples host sensors with gopsutil and reports them
// as telemetry.
package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/telemetry"
)

// Reading holds a single collection cycle's data.
type Reading struct {
	Usage          float64
	Temperature    float64
	HasTemperature bool
	Status         models.MachineStatus
	CollectedAt    time.Time
}

// Metrics converts r into the metric map sent over the wire.
func (r Reading) Metrics() map[string]any {
	m := map[string]any{
		telemetry.MetricUsage:  models.Round2(r.Usage),
		telemetry.MetricStatus: string(r.Status),
	}
	if r.HasTemperature {
		m[telemetry.MetricTemperature] = r.Temperature
	}
	return m
}

// Collector gathers controller metrics.
type Collector struct {
	// IdleBelow is the CPU percentage under which the machine reports idle.
	IdleBelow float64

	cpuPercent   func(ctx context.Context) (float64, error)
	temperatures func(ctx context.Context) ([]float64, error)
	now          func() time.Time
}

// NewCollector creates a Collector backed by the host's sensors.
func NewCollector() *Collector {
	return &Collector{
		IdleBelow:    5,
		cpuPercent:   hostCPUPercent,
		temperatures: hostTemperatures,
		now:          time.Now,
	}
}

// Collect gathers the current reading. A missing temperature sensor is not
// an error; the reading just omits it.
func (c *Collector) Collect(ctx context.Context) (Reading, error) {
	usage, err := c.cpuPercent(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("reading cpu: %w", err)
	}
	r := Reading{Usage: usage, Status: models.MachineRunning, CollectedAt: c.now()}
	if usage < c.IdleBelow {
		r.Status = models.MachineIdle
	}

	if temps, err := c.temperatures(ctx); err == nil {
		for _, t := range temps {
			if t > 0 && (!r.HasTemperature || t > r.Temperature) {
				r.Temperature, r.HasTemperature = t, true
			}
		}
	}
	return r, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func hostCPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return pcts[0], nil
}

// hostTemperatures returns every sensor reading in °C. Some platforms
// return partial data together with a warning error; those readings are
// still used.
func hostTemperatures(ctx context.Context) ([]float64, error) {
	stats, err := sensors.TemperaturesWithContext(ctx)
	if len(stats) == 0 {
		if err == nil {
			err = fmt.Errorf("no temperature sensors")
		}
		return nil, err
	}
	temps := make([]float64, 0, len(stats))
	for _, s := range stats {
		temps = append(temps, s.Temperature)
	}
	return temps, nil
}

// DefaultMachineID is the machine ID used when none is configured: the
// lower-cased host name.
func DefaultMachineID() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return strings.ToLower(info.Hostname)
	}
	if h, err := os.Hostname(); err == nil {
		return strings.ToLower(h)
	}
	return "machine-unknown"
}
