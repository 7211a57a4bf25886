package store

import (
	"context"
	"errors"
	"log"

	"github.com/vesaa/cncmate/internal/idgen"
	"github.com/vesaa/cncmate/internal/models"
)

// GetUser returns a user by ID or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetUserByUsername returns a user by login name or ErrNotFound.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// CreateUser inserts u, defaulting the role to operator.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = idgen.New()
	}
	if u.Role == "" {
		u.Role = models.RoleOperator
	}
	return s.db.WithContext(ctx).Create(u).Error
}

// EnsureUser creates the named account when it does not exist yet.
// An existing account is returned unchanged so operators can rotate the
// password without it being reset on restart.
func (s *Store) EnsureUser(ctx context.Context, username, passwordHash string, role models.Role) (*models.User, bool, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	u = &models.User{Username: username, PasswordHash: passwordHash, Role: role}
	if err := s.CreateUser(ctx, u); err != nil {
		return nil, false, err
	}
	log.Printf("[db] created %s account %q", role, username)
	return u, true, nil
}
