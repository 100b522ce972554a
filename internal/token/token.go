// Package token mints and verifies the signed bearer tokens used for API
// access and session refresh.
package token

import (
	"time"

	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

// Token kinds.
const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// SchemeBearer is the fixed token type label returned to clients.
const SchemeBearer = "Bearer"

// Default lifetimes.
const (
	DefaultAccessTTL  = 900 * time.Second
	DefaultRefreshTTL = 604800 * time.Second
)

// Payload is the identity carried inside a token.
type Payload struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	ID        string    `json:"jti"`
}

// Expired reports whether the payload is past its expiry at now.
func (p Payload) Expired(now time.Time) bool {
	return p.ExpiresAt.Before(now)
}

// Pair is the credential bundle returned by login, signup and refresh.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}
