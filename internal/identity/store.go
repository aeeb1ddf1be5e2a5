// Package identity is the minimal user registry consulted before an
// assembly state is created. Authentication lives in front of it.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/store"
)

// User is a registered user.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Store reads and writes users.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a user store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{ds: ds, logger: logger.With().Str("component", "identity").Logger()}
}

// UserExists reports whether id is registered.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.ds.DB().QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return true, nil
}

// CreateUser registers a user. Registering an existing id is ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return nil, fmt.Errorf("user id is empty: %w", perrors.ErrInvalidInput)
	}
	u.CreatedAt = time.Now().UnixMilli()
	_, err := s.ds.DB().ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", u.ID, perrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info().Str("user_id", u.ID).Msg("user created")
	return &u, nil
}

// GetUser returns a user or perrors.ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.ds.DB().QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", id, perrors.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
