// Package models defines GORM data models for CNCMate.
package models

import (
	"time"
)

// MachineStatus is the operational state of a CNC machine.
type MachineStatus string

const (
	MachineRunning     MachineStatus = "running"
	MachineIdle        MachineStatus = "idle"
	MachineOffline     MachineStatus = "offline"
	MachineMaintenance MachineStatus = "maintenance"
)

// MachineStatuses lists every valid status in display order.
var MachineStatuses = []MachineStatus{MachineRunning, MachineIdle, MachineMaintenance, MachineOffline}

// Valid reports whether s is one of the four known statuses.
func (s MachineStatus) Valid() bool {
	switch s {
	case MachineRunning, MachineIdle, MachineOffline, MachineMaintenance:
		return true
	}
	return false
}

// Machine is one CNC machine on the shop floor.
// Telemetry columns (temperature … power) are written by the telemetry
// applier; operator/job references by assignment operations.
type Machine struct {
	ID     string        `gorm:"primaryKey;size:64" json:"id"`
	Name   string        `gorm:"index;not null" json:"name"`
	Type   string        `gorm:"not null" json:"type"`
	Status MachineStatus `gorm:"size:16;index;not null;default:offline" json:"status"`

	CurrentOperatorID *string `gorm:"size:64" json:"currentOperatorId"`
	CurrentJobID      *string `gorm:"size:64" json:"currentJobId"`

	// Telemetry
	Temperature int     `gorm:"default:0" json:"temperature"` // °C
	Vibration   float64 `gorm:"default:0" json:"vibration"`   // mm/s, 2dp
	Usage       float64 `gorm:"default:0" json:"usage"`       // percent, 2dp
	RPM         int     `gorm:"column:rpm;default:0" json:"rpm"`
	Power       float64 `gorm:"default:0" json:"power"` // kW, 2dp

	LastMaintenanceDate *time.Time `json:"lastMaintenanceDate"`
	TotalRunningHours   int        `gorm:"default:0" json:"totalRunningHours"`
	LastDataUpdate      time.Time  `json:"lastDataUpdate"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}
