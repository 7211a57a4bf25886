package store

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/vesaa/cncmate/internal/idgen"
	"github.com/vesaa/cncmate/internal/models"
)

// ListMachines returns every machine ordered by name.
func (s *Store) ListMachines(ctx context.Context) ([]models.Machine, error) {
	var machines []models.Machine
	if err := s.db.WithContext(ctx).Order("name").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

// ListMachineIDs returns the IDs of all known machines.
func (s *Store) ListMachineIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Machine{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetMachine returns one machine or ErrNotFound.
func (s *Store) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var m models.Machine
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// CreateMachine inserts m, assigning an ID and the offline status when unset.
func (s *Store) CreateMachine(ctx context.Context, m *models.Machine) error {
	if m.ID == "" {
		m.ID = idgen.New()
	}
	if m.Status == "" {
		m.Status = models.MachineOffline
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid machine status %q", m.Status)
	}
	if m.LastDataUpdate.IsZero() {
		m.LastDataUpdate = time.Now()
	}
	return s.db.WithContext(ctx).Create(m).Error
}

// UpdateMachineTelemetry writes the given columns plus the last-update
// timestamp. Columns not named in fields are left untouched.
func (s *Store) UpdateMachineTelemetry(ctx context.Context, id string, fields map[string]any, at time.Time) error {
	updates := maps.Clone(fields)
	if updates == nil {
		updates = make(map[string]any, 2)
	}
	updates["last_data_update"] = at
	updates["updated_at"] = at

	tx := s.db.WithContext(ctx).Model(&models.Machine{}).Where("id = ?", id).Updates(updates)
	return affected(tx)
}

// AssignMachine sets the current operator and job references; nil clears them.
func (s *Store) AssignMachine(ctx context.Context, id string, operatorID, jobID *string) error {
	tx := s.db.WithContext(ctx).Model(&models.Machine{}).Where("id = ?", id).Updates(map[string]any{
		"current_operator_id": operatorID,
		"current_job_id":      jobID,
		"updated_at":          time.Now(),
	})
	return affected(tx)
}
