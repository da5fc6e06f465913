// ABOUTME: Tests for the client-side TokenSource
// ABOUTME: Covers static and file tokens, local expiry checks and opaque tokens

package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_Static(t *testing.T) {
	verifier := NewJWTVerifier([]byte("client-side-secret-irrelevant-here"))
	token, err := verifier.Generate("u1", time.Hour)
	require.NoError(t, err)

	got, err := NewTokenSource("  "+token+"\n", "/does/not/matter").Token()
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestTokenSource_FileIsReread(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("opaque-one\n"), 0600))

	src := NewTokenSource("", path)
	got, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque-one", got)

	require.NoError(t, os.WriteFile(path, []byte("opaque-two"), 0600))
	got, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque-two", got)
}

func TestTokenSource_MissingFile(t *testing.T) {
	_, err := NewTokenSource("", filepath.Join(t.TempDir(), "absent")).Token()
	assert.Error(t, err)
}

func TestTokenSource_Empty(t *testing.T) {
	got, err := NewTokenSource("", "").Token()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTokenSource_ExpiredJWT(t *testing.T) {
	verifier := NewJWTVerifier([]byte("client-side-secret-irrelevant-here"))
	token, err := verifier.Generate("u1", -time.Minute)
	require.NoError(t, err)

	_, err = NewTokenSource(token, "").Token()
	assert.True(t, errors.Is(err, ErrExpiredToken))
}

func TestTokenSource_ExpiryUsesClock(t *testing.T) {
	verifier := NewJWTVerifier([]byte("client-side-secret-irrelevant-here"))
	token, err := verifier.Generate("u1", time.Hour)
	require.NoError(t, err)

	src := NewTokenSource(token, "")
	src.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = src.Token()
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenSource_OpaqueDottedToken(t *testing.T) {
	got, err := NewTokenSource("a.b.c", "").Token()
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", got)
}

func TestDefaultTokenFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "trident", "token"), DefaultTokenFile())
}
