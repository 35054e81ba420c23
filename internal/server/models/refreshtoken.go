package models

import "time"

// RefreshToken is the stored form of an opaque refresh token. Only TokenHash
// is persisted; RawToken is filled in once, when the token is minted.
type RefreshToken struct {
	ID         string
	UserID     string
	FamilyID   string
	TokenHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time

	RawToken string
}

// Used reports whether the token has already been redeemed.
func (t *RefreshToken) Used() bool { return t.LastUsedAt != nil }

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
