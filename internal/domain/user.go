// Package domain contains core domain types for the chat panel shell.
package domain

import (
	"time"
)

// User is an anonymous browser identity keyed by the session cookie.
type User struct {
	UserID      string           `json:"user_id"`
	ColorScheme SchemePreference `json:"color_scheme"`
	LastSeenAt  time.Time        `json:"last_seen_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PreferredScheme resolves the user's stored preference against the
// client's reported system setting.
func (u *User) PreferredScheme(systemDark bool) ColorScheme {
	return u.ColorScheme.Resolve(systemDark)
}
