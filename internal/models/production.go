package models

import (
	"time"
)

// JobStatus is the lifecycle state of a production job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobInProgress, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// Severity grades defects and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertType classifies an alert.
type AlertType string

const (
	AlertTemperature AlertType = "temperature"
	AlertMaintenance AlertType = "maintenance"
	AlertOffline     AlertType = "offline"
	AlertDefect      AlertType = "defect"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertTemperature, AlertMaintenance, AlertOffline, AlertDefect:
		return true
	}
	return false
}

// Job is a unit of production work scheduled on one machine.
type Job struct {
	ID                string    `gorm:"primaryKey;size:64" json:"id"`
	JobNumber         string    `gorm:"uniqueIndex;size:64;not null" json:"jobNumber"`
	Description       string    `gorm:"type:text;not null" json:"description"`
	MachineID         string    `gorm:"index;size:64;not null" json:"machineId"`
	OperatorID        string    `gorm:"size:64;not null" json:"operatorId"`
	Status            JobStatus `gorm:"size:16;index;not null;default:queued" json:"status"`
	EstimatedDuration *int      `json:"estimatedDuration"` // minutes
	ActualDuration    *int      `json:"actualDuration"`    // minutes
	Progress          int       `gorm:"default:0" json:"progress"` // 0-100

	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Defect is a quality issue reported against a machine (and optionally a job).
type Defect struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	Type         string     `gorm:"not null" json:"type"`
	Severity     Severity   `gorm:"size:16;not null" json:"severity"`
	Description  string     `gorm:"type:text;not null" json:"description"`
	JobID        *string    `gorm:"size:64" json:"jobId"`
	MachineID    string     `gorm:"index;size:64;not null" json:"machineId"`
	ReportedByID string     `gorm:"size:64;not null" json:"reportedById"`
	Resolved     bool       `gorm:"default:false" json:"resolved"`
	ResolvedAt   *time.Time `json:"resolvedAt"`
	CreatedAt    time.Time  `gorm:"index" json:"createdAt"`
}

// Alert is an operator-facing notice; it stays active until dismissed.
type Alert struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Type        AlertType  `gorm:"size:16;not null" json:"type"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text;not null" json:"description"`
	MachineID   *string    `gorm:"size:64" json:"machineId"`
	Severity    Severity   `gorm:"size:16;not null" json:"severity"`
	Dismissed   bool       `gorm:"index;default:false" json:"dismissed"`
	DismissedAt *time.Time `json:"dismissedAt"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
}

// ShiftReport summarises one calendar day of production.
type ShiftReport struct {
	ID                string    `gorm:"primaryKey;size:64" json:"id"`
	ShiftDate         time.Time `gorm:"uniqueIndex;not null" json:"shiftDate"`
	TotalJobs         int       `json:"totalJobs"`
	CompletedJobs     int       `json:"completedJobs"`
	TotalDowntime     int       `json:"totalDowntime"` // minutes
	AverageEfficiency float64   `json:"averageEfficiency"`
	QualityRate       float64   `json:"qualityRate"`
	CreatedAt         time.Time `json:"createdAt"`
}
