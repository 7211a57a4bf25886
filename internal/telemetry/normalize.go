package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vesaa/cncmate/internal/models"
)

// Update is a normalised sample value ready to persist and broadcast.
// Metric doubles as the column name.
type Update struct {
	Metric string
	Value  any
}

// Normalize converts a raw value for metric:
//
//	temperature, rpm          nearest integer
//	vibration, usage, power   two decimal places
//	status                    trimmed, lower-cased, one of the four statuses
func Normalize(metric string, raw any) (Update, error) {
	switch metric {
	case MetricStatus:
		s, err := normalizeStatus(raw)
		if err != nil {
			return Update{}, err
		}
		return Update{Metric: metric, Value: s}, nil

	case MetricTemperature, MetricRPM:
		v, err := toFloat(raw)
		if err != nil {
			return Update{}, fmt.Errorf("%s: %w", metric, err)
		}
		return Update{Metric: metric, Value: int(math.Round(v))}, nil

	case MetricVibration, MetricUsage, MetricPower:
		v, err := toFloat(raw)
		if err != nil {
			return Update{}, fmt.Errorf("%s: %w", metric, err)
		}
		return Update{Metric: metric, Value: models.Round2(v)}, nil
	}
	return Update{}, fmt.Errorf("%w %q", ErrUnknownMetric, metric)
}

// NormalizeStatus parses a status string from any source.
func NormalizeStatus(raw string) (models.MachineStatus, error) {
	return normalizeStatus(raw)
}

func normalizeStatus(raw any) (models.MachineStatus, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case models.MachineStatus:
		s = string(v)
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidStatus, raw)
	}
	status := models.MachineStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, s)
	}
	return status, nil
}

func toFloat(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		return parseFloat(string(v))
	case string:
		return parseFloat(v)
	case []byte:
		return parseFloat(string(v))
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidValue, f)
	}
	return f, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w %q", ErrInvalidValue, s)
	}
	return f, nil
}
