package models

import "time"

// User is the owner identity used for step-up re-authentication.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
