package models

import "time"

// RoleCleaner is the only role allowed to use the cleaner API.
const RoleCleaner = "cleaner"

// Cleaner is a row of the external users table. Read-only here.
type Cleaner struct {
	ID          string  `db:"id"        json:"id"`
	Email       string  `db:"email"     json:"email"`
	DisplayName *string `db:"full_name" json:"full_name,omitempty"`
	Role        string  `db:"role"      json:"role"`
}

// IsCleaner reports whether the user may use the cleaner API.
func (c *Cleaner) IsCleaner() bool {
	return c != nil && c.Role == RoleCleaner
}

// Session is the authenticated subject threaded explicitly through every
// query and lifecycle call. RefreshToken and ExpiresAt are only populated
// right after sign-in, refresh or code exchange.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}
