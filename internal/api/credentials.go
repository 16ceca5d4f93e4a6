// api/credentials.go
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/shotprep/internal/store"
)

// CredentialsKey is the store key written by `shotprep login`.
const CredentialsKey = "credentials"

// ErrNoCredentials means no usable token is stored.
var ErrNoCredentials = errors.New("no api credentials")

// Credentials authenticate against the analytics API.
type Credentials struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url,omitempty"`
}

// parserUnverified reads claims without checking the signature.
var parserUnverified = jwt.NewParser(jwt.WithoutClaimsValidation())

// Expired reports whether the token is a JWT whose exp claim lies before now.
// Opaque tokens never expire client side.
func (c Credentials) Expired(now time.Time) bool {
	if strings.Count(c.Token, ".") != 2 {
		return false
	}
	token, _, err := parserUnverified.ParseUnverified(c.Token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

// LoadCredentials reads the stored credentials. Missing, empty and expired
// tokens all yield ErrNoCredentials.
func LoadCredentials(ctx context.Context, kv store.KV, now time.Time) (Credentials, error) {
	var c Credentials
	if err := store.GetJSON(ctx, kv, CredentialsKey, &c); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	if strings.TrimSpace(c.Token) == "" {
		return Credentials{}, ErrNoCredentials
	}
	if c.Expired(now) {
		return Credentials{}, fmt.Errorf("%w: token expired", ErrNoCredentials)
	}
	return c, nil
}

// SaveCredentials persists c.
func SaveCredentials(ctx context.Context, kv store.KV, c Credentials) error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token must not be empty")
	}
	return store.SetJSON(ctx, kv, CredentialsKey, c)
}
