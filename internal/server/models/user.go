package models

import "time"

// User is the persisted account.
//
// RefreshToken holds the only refresh token currently honoured for the user;
// nil means no active session. Confirmed flips to true exactly once, when an
// email-confirmation token is redeemed.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	UserName     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Confirmed    bool      `json:"confirmed"`
	RefreshToken *string   `json:"-"`
	AvatarURL    string    `json:"avatar"`
	CreatedAt    time.Time `json:"created_at"`
}
