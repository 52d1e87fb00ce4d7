// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
)

// Repository defines the interface for persisting users and recorded facts.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpdateColorScheme stores the user's color scheme preference.
	UpdateColorScheme(ctx context.Context, userID string, pref domain.SchemePreference) error

	// SaveFact stores a fact. Saving the same user/fact id twice keeps the first
	// row and reports inserted=false.
	SaveFact(ctx context.Context, fact *domain.Fact) (inserted bool, err error)

	// ListFacts returns a user's facts, newest first, at most limit rows.
	ListFacts(ctx context.Context, userID string, limit int) ([]*domain.Fact, error)

	// DeleteFactsBefore removes facts created before cutoff.
	DeleteFactsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
