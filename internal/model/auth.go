package model

import "time"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is what sign-in, sign-up and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AtExpiry     time.Time `json:"atExpiry"`
}

type LoginData struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AtExpiry     time.Time `json:"atExpiry"`
	User         UserRef   `json:"user"`
}

type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthUser is the identity resolved from a verified access token.
type AuthUser struct {
	ID    string
	Email string
}

// Identity is the credential store record. Only RefreshFingerprint is owned
// by the session core.
type Identity struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       string
	RefreshFingerprint *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastLoginAt        *time.Time
}

// Public strips the credential hash and the fingerprint.
func (i *Identity) Public() PublicUser {
	return PublicUser{
		ID:        i.ID,
		Email:     i.Email,
		Name:      i.Name,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		LastLogin: i.LastLoginAt,
	}
}

type PublicUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Session is the result of sign-up and sign-in.
type Session struct {
	User   PublicUser
	Tokens TokenPair
}
