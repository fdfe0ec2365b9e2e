package models

import "time"

type Secret struct {
	ID             string    `json:"id"`
	Ciphertext     []byte    `json:"-"`
	IV             []byte    `json:"-"`
	ViewsRemaining int       `json:"views_remaining"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Payload is what a successful consume hands back to the caller.
type Payload struct {
	Ciphertext []byte
	IV         []byte
}
