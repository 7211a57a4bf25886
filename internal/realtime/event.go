// Package realtime fans CNCMate events out to connected dashboards.
// A Hub is the connection registry and the broadcast dispatcher; WSConn
// adapts a gorilla websocket to the Hub's Conn interface.
package realtime

import (
	"time"

	"github.com/vesaa/cncmate/internal/models"
)

// Event types on the /ws channel.
const (
	TypeConnection      = "connection"
	TypeMachineUpdate   = "machine_update"
	TypeDashboardUpdate = "dashboard_update"
	TypeStatsUpdate     = "stats_update"
	TypeMachinesUpdate  = "machines_update"
)

// GreetingMessage is the human-readable text of the connection event.
const GreetingMessage = "Connected to CNCMate"

// Event is one server-pushed message:
//
//	{"type": "machine_update", "data": {...}, "timestamp": "..."}
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Greeting confirms a new connection.
func Greeting(now time.Time) Event {
	return Event{
		Type:      TypeConnection,
		Data:      map[string]string{"message": GreetingMessage},
		Timestamp: now,
	}
}

// MachineUpdate is a single-machine delta carrying only the changed field.
func MachineUpdate(machineID, field string, value any, now time.Time) Event {
	return Event{
		Type:      TypeMachineUpdate,
		Data:      map[string]any{"machineId": machineID, field: value},
		Timestamp: now,
	}
}

// DashboardUpdate carries the full fleet snapshot.
func DashboardUpdate(snap *models.FleetSnapshot) Event {
	return Event{Type: TypeDashboardUpdate, Data: snap, Timestamp: snap.Timestamp}
}

// StatsUpdate carries the header numbers only.
func StatsUpdate(stats models.DashboardStats, now time.Time) Event {
	return Event{Type: TypeStatsUpdate, Data: stats, Timestamp: now}
}

// MachinesUpdate carries the raw machine list.
func MachinesUpdate(machines []models.Machine, now time.Time) Event {
	return Event{Type: TypeMachinesUpdate, Data: machines, Timestamp: now}
}
