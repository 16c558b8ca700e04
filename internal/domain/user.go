package domain

import "time"

// User represents a registered account
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsSuperuser  bool      `json:"is_superuser"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Credentials is the body of signup and login requests
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// AuthResponse is returned by signup and login
type AuthResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}
