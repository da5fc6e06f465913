// ABOUTME: Client-side bearer token lookup with a local JWT expiry check
// ABOUTME: Reads a static token or a token file; opaque tokens pass through unchecked

package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for outgoing requests. A static
// token wins over the file, which is re-read on every call so a refreshed
// token is picked up without a restart.
type TokenSource struct {
	static string
	path   string
	now    func() time.Time
}

// NewTokenSource creates a source. Both arguments may be empty, in which
// case requests are sent unauthenticated.
func NewTokenSource(static, path string) *TokenSource {
	return &TokenSource{
		static: strings.TrimSpace(static),
		path:   path,
		now:    time.Now,
	}
}

// Token returns the current token. A JWT whose exp claim has passed yields
// ErrExpiredToken so the request is not sent.
func (s *TokenSource) Token() (string, error) {
	token := s.static
	if token == "" && s.path != "" {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return "", nil
	}

	if exp, ok := expiry(token); ok && !exp.After(s.now()) {
		return "", fmt.Errorf("%w: expired at %s", ErrExpiredToken, exp.UTC().Format(time.RFC3339))
	}
	return token, nil
}

// expiry reads the exp claim without verifying the signature; the server
// does that.
func expiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// DefaultTokenFile returns $XDG_CONFIG_HOME/trident/token, falling back to
// ~/.config/trident/token.
func DefaultTokenFile() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "trident", "token")
}
