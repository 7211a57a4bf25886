package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vesaa/cncmate/internal/idgen"
	"github.com/vesaa/cncmate/internal/models"
	"gorm.io/gorm/clause"
)

// DashboardStats returns the header numbers for the dashboard.
func (s *Store) DashboardStats(ctx context.Context, now time.Time) (models.DashboardStats, error) {
	snap, err := s.Snapshot(ctx, now)
	if err != nil {
		return models.DashboardStats{}, err
	}
	return snap.DashboardStats, nil
}

// Snapshot reads the fleet once and derives every count from that read.
// Reads are not isolated from concurrent telemetry writes; a snapshot may
// mix values from before and after an in-flight sample.
func (s *Store) Snapshot(ctx context.Context, now time.Time) (*models.FleetSnapshot, error) {
	machines, err := s.ListMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}

	db := s.db.WithContext(ctx)
	today := models.StartOfDay(now)

	var jobsToday, defectsToday, activeJobs, totalJobs, pendingAlerts int64
	counts := []struct {
		name  string
		query func() error
	}{
		{"jobs today", func() error {
			return db.Model(&models.Job{}).Where("created_at >= ?", today).Count(&jobsToday).Error
		}},
		{"defects today", func() error {
			return db.Model(&models.Defect{}).Where("created_at >= ?", today).Count(&defectsToday).Error
		}},
		{"active jobs", func() error {
			return db.Model(&models.Job{}).Where("status = ?", models.JobInProgress).Count(&activeJobs).Error
		}},
		{"total jobs", func() error {
			return db.Model(&models.Job{}).Count(&totalJobs).Error
		}},
		{"pending alerts", func() error {
			return db.Model(&models.Alert{}).Where("dismissed = ?", false).Count(&pendingAlerts).Error
		}},
	}
	for _, c := range counts {
		if err := c.query(); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.name, err)
		}
	}

	return &models.FleetSnapshot{
		DashboardStats: models.ComputeStats(machines, int(jobsToday), int(defectsToday)),
		ActiveJobs:     int(activeJobs),
		TotalJobs:      int(totalJobs),
		PendingAlerts:  int(pendingAlerts),
		Machines:       machines,
		Timestamp:      now,
	}, nil
}

// CreateShiftReport summarises the calendar day containing day and stores
// it, replacing any earlier report for the same date.
func (s *Store) CreateShiftReport(ctx context.Context, day time.Time) (*models.ShiftReport, error) {
	start := models.StartOfDay(day)
	end := start.AddDate(0, 0, 1)
	db := s.db.WithContext(ctx)

	var totalJobs, completedJobs, defects int64
	if err := db.Model(&models.Job{}).Where("created_at >= ? AND created_at < ?", start, end).Count(&totalJobs).Error; err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	if err := db.Model(&models.Job{}).Where("completed_at >= ? AND completed_at < ?", start, end).Count(&completedJobs).Error; err != nil {
		return nil, fmt.Errorf("counting completed jobs: %w", err)
	}
	if err := db.Model(&models.Defect{}).Where("created_at >= ? AND created_at < ?", start, end).Count(&defects).Error; err != nil {
		return nil, fmt.Errorf("counting defects: %w", err)
	}
	machines, err := s.ListMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}
	stats := models.ComputeStats(machines, int(totalJobs), int(defects))

	report := &models.ShiftReport{
		ID:                idgen.New(),
		ShiftDate:         start,
		TotalJobs:         int(totalJobs),
		CompletedJobs:     int(completedJobs),
		AverageEfficiency: stats.AverageEfficiency,
		QualityRate:       stats.QualityRate,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shift_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_jobs", "completed_jobs", "average_efficiency", "quality_rate"}),
	}).Create(report).Error
	if err != nil {
		return nil, fmt.Errorf("saving shift report: %w", err)
	}
	return report, nil
}

// ShiftReports returns the newest reports first.
func (s *Store) ShiftReports(ctx context.Context, limit int) ([]models.ShiftReport, error) {
	var reports []models.ShiftReport
	err := s.db.WithContext(ctx).Order("shift_date desc").Limit(limit).Find(&reports).Error
	return reports, err
}
