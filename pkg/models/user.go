package models

import "time"

// User is an authenticated identity owned by the OAuth subsystem. The rest
// of the application reads it and never writes it.
type User struct {
	ID        int       `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	AvatarURL string    `json:"avatarUrl" db:"avatar_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Session is an opaque session record keyed by session id.
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    int       `json:"userId" db:"user_id"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
