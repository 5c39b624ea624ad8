package models

import "time"

// ControlToken authorizes stopping and removing one session
type ControlToken struct {
	Token     string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValid reports whether the token has not expired
func (t *ControlToken) IsValid() bool {
	return time.Now().Before(t.ExpiresAt)
}
