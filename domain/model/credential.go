package model

import "time"

// Credential stores marketplace OAuth tokens per account and platform
type Credential struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Platform     string    `json:"platform"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       string    `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Stale reports whether the access token expires within skew of now.
func (c *Credential) Stale(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}
