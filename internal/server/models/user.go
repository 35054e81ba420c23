// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account that can log in with a password.
type User struct {
	ID           string
	UserName     string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}
