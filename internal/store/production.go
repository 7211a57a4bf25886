package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vesaa/cncmate/internal/idgen"
	"github.com/vesaa/cncmate/internal/models"
	"gorm.io/gorm"
)

// ── Jobs ──────────────────────────────────────────────────────────────────────

// RecentJobs returns the newest jobs first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// JobsByMachine returns every job scheduled on one machine, newest first.
func (s *Store) JobsByMachine(ctx context.Context, machineID string) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).Where("machine_id = ?", machineID).Order("created_at desc").Find(&jobs).Error
	return jobs, err
}

// CreateJob inserts j as queued unless a status is given.
func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == "" {
		j.ID = idgen.New()
	}
	if j.Status == "" {
		j.Status = models.JobQueued
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	return s.db.WithContext(ctx).Create(j).Error
}

// UpdateJobProgress sets progress (0-100).
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range 0-100", progress)
	}
	tx := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(map[string]any{
		"progress":   progress,
		"updated_at": time.Now(),
	})
	return affected(tx)
}

// UpdateJobStatus moves a job to status. Entering in_progress stamps
// started_at once; entering completed stamps completed_at.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid job status %q", status)
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case models.JobInProgress:
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	case models.JobCompleted:
		updates["completed_at"] = now
		updates["progress"] = 100
	}
	tx := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(updates)
	return affected(tx)
}

// ── Defects ───────────────────────────────────────────────────────────────────

// RecentDefects returns the newest defects first.
func (s *Store) RecentDefects(ctx context.Context, limit int) ([]models.Defect, error) {
	var defects []models.Defect
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&defects).Error
	return defects, err
}

// CreateDefect records a quality issue.
func (s *Store) CreateDefect(ctx context.Context, d *models.Defect) error {
	if d.ID == "" {
		d.ID = idgen.New()
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", d.Severity)
	}
	return s.db.WithContext(ctx).Create(d).Error
}

// ResolveDefect marks a defect resolved.
func (s *Store) ResolveDefect(ctx context.Context, id string, now time.Time) error {
	tx := s.db.WithContext(ctx).Model(&models.Defect{}).Where("id = ?", id).Updates(map[string]any{
		"resolved":    true,
		"resolved_at": now,
	})
	return affected(tx)
}

// ── Alerts ────────────────────────────────────────────────────────────────────

// ActiveAlerts returns undismissed alerts, newest first.
func (s *Store) ActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).Where("dismissed = ?", false).Order("created_at desc").Find(&alerts).Error
	return alerts, err
}

// CreateAlert records a new alert.
func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = idgen.New()
	}
	if !a.Type.Valid() {
		return fmt.Errorf("invalid alert type %q", a.Type)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", a.Severity)
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// DismissAlert hides an alert from the active list.
func (s *Store) DismissAlert(ctx context.Context, id string, now time.Time) error {
	tx := s.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", id).Updates(map[string]any{
		"dismissed":    true,
		"dismissed_at": now,
	})
	return affected(tx)
}
