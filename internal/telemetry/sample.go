// Package telemetry is the live data path: sources produce Samples, the
// Applier normalises, persists and broadcasts them per machine in arrival
// order, and the Aggregator pushes periodic fleet snapshots.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// Metric names, also the machines table columns they update.
const (
	MetricTemperature = "temperature"
	MetricVibration   = "vibration"
	MetricStatus      = "status"
	MetricUsage       = "usage"
	MetricRPM         = "rpm"
	MetricPower       = "power"
)

// MetricNames lists every recognised metric in topic-subscription order.
var MetricNames = []string{
	MetricTemperature, MetricVibration, MetricStatus,
	MetricUsage, MetricRPM, MetricPower,
}

var (
	ErrUnknownMetric = errors.New("telemetry: unknown metric")
	ErrInvalidValue  = errors.New("telemetry: invalid value")
	ErrInvalidStatus = errors.New("telemetry: invalid status")
	ErrInvalidTopic  = errors.New("telemetry: malformed topic")
	ErrStopped       = errors.New("telemetry: applier stopped")
	ErrQueueFull     = errors.New("telemetry: machine queue full")
)

// Sample is one metric reading for one machine. Value is whatever the
// source produced: a number, or text to be parsed.
type Sample struct {
	MachineID string
	Metric    string
	Value     any
	At        time.Time
	Source    string
}

// Sink accepts samples from a Source.
type Sink interface {
	Submit(ctx context.Context, s Sample) error
}

// TrySink is a Sink that can refuse a sample instead of waiting for room.
// Sources whose callbacks must not block use it when available.
type TrySink interface {
	TrySubmit(s Sample) error
}

// Source produces samples until stopped.
type Source interface {
	Name() string
	Start(ctx context.Context, sink Sink) error
	Stop() error
}
