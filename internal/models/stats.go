package models

import (
	"math"
	"time"
)

// DashboardStats is the fleet summary shown on the dashboard header.
type DashboardStats struct {
	ActiveMachines    int     `json:"activeMachines"`
	TotalMachines     int     `json:"totalMachines"`
	JobsToday         int     `json:"jobsToday"`
	QualityRate       float64 `json:"qualityRate"`       // percent, 2dp
	AverageEfficiency float64 `json:"averageEfficiency"` // percent, 2dp
}

// FleetSnapshot is the full dashboard state pushed on every aggregation tick.
type FleetSnapshot struct {
	DashboardStats
	ActiveJobs    int       `json:"activeJobs"`
	TotalJobs     int       `json:"totalJobs"`
	PendingAlerts int       `json:"pendingAlerts"`
	Machines      []Machine `json:"machines"`
	Timestamp     time.Time `json:"timestamp"`
}

// ComputeStats derives the dashboard numbers from one read of the machine
// list, so ActiveMachines can never exceed TotalMachines.
//
//	averageEfficiency = running / total * 100   (0 with no machines)
//	qualityRate       = (jobs - defects) / jobs * 100   (100 with no jobs)
func ComputeStats(machines []Machine, jobsToday, defectsToday int) DashboardStats {
	active := 0
	for _, m := range machines {
		if m.Status == MachineRunning {
			active++
		}
	}
	total := len(machines)

	quality := 100.0
	if jobsToday > 0 {
		quality = float64(jobsToday-defectsToday) / float64(jobsToday) * 100
	}
	efficiency := 0.0
	if total > 0 {
		efficiency = float64(active) / float64(total) * 100
	}

	return DashboardStats{
		ActiveMachines:    active,
		TotalMachines:     total,
		JobsToday:         jobsToday,
		QualityRate:       Round2(quality),
		AverageEfficiency: Round2(efficiency),
	}
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
