package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vesaa/cncmate/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm/clause"
)

// Fleet is a YAML fixture describing the machines of one shop.
//
//	machines:
//	  - id: machine-001
//	    name: CNC Mill Alpha
//	    type: CNC Mill
//	    status: idle
type Fleet struct {
	Machines []FleetMachine `yaml:"machines"`
}

// FleetMachine is one machine entry of a Fleet fixture.
type FleetMachine struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Status string `yaml:"status"`
}

// DefaultFleet is the five-machine demo shop the simulator drives out of the box.
func DefaultFleet() *Fleet {
	return &Fleet{Machines: []FleetMachine{
		{ID: "machine-001", Name: "CNC Mill Alpha", Type: "CNC Mill", Status: "running"},
		{ID: "machine-002", Name: "CNC Lathe Beta", Type: "CNC Lathe", Status: "running"},
		{ID: "machine-003", Name: "CNC Router Gamma", Type: "CNC Router", Status: "idle"},
		{ID: "machine-004", Name: "CNC Mill Delta", Type: "CNC Mill", Status: "maintenance"},
		{ID: "machine-005", Name: "Plasma Cutter Epsilon", Type: "Plasma Cutter", Status: "offline"},
	}}
}

// LoadFleet parses and validates a YAML fleet fixture.
func LoadFleet(r io.Reader) (*Fleet, error) {
	var f Fleet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing fleet: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks IDs are present and unique and statuses are known.
func (f *Fleet) Validate() error {
	seen := make(map[string]bool, len(f.Machines))
	for i, m := range f.Machines {
		if m.ID == "" || m.Name == "" {
			return fmt.Errorf("fleet machine %d: id and name are required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("fleet machine %q: duplicate id", m.ID)
		}
		seen[m.ID] = true
		if m.Status != "" && !models.MachineStatus(m.Status).Valid() {
			return fmt.Errorf("fleet machine %q: invalid status %q", m.ID, m.Status)
		}
	}
	return nil
}

// SeedFleet upserts every fixture machine by ID. Existing machines keep
// their telemetry; only name, type and status are overwritten.
func (s *Store) SeedFleet(ctx context.Context, f *Fleet) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	now := time.Now()
	for _, fm := range f.Machines {
		status := models.MachineStatus(fm.Status)
		if status == "" {
			status = models.MachineOffline
		}
		m := models.Machine{
			ID:             fm.ID,
			Name:           fm.Name,
			Type:           fm.Type,
			Status:         status,
			LastDataUpdate: now,
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "type", "status", "updated_at"}),
		}).Create(&m).Error
		if err != nil {
			return 0, fmt.Errorf("seeding %s: %w", fm.ID, err)
		}
	}
	return len(f.Machines), nil
}
