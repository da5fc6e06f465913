package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/config"
)

func TestParseBootstrapArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		user    string
		ttl     time.Duration
		wantErr string
	}{
		{name: "separate value", args: []string{"--user", "alice"}, user: "alice", ttl: defaultTokenTTL},
		{name: "equals form", args: []string{"--user=bob", "--ttl=1h"}, user: "bob", ttl: time.Hour},
		{name: "short flag", args: []string{"-u", "carol", "--ttl", "30m"}, user: "carol", ttl: 30 * time.Minute},
		{name: "missing user", args: nil, wantErr: "--user flag is required"},
		{name: "blank user", args: []string{"--user", "   "}, wantErr: "--user flag is required"},
		{name: "dangling flag", args: []string{"--user"}, wantErr: "--user requires a value"},
		{name: "bad ttl", args: []string{"--user", "a", "--ttl", "soon"}, wantErr: "parsing --ttl"},
		{name: "negative ttl", args: []string{"--user", "a", "--ttl", "-1h"}, wantErr: "--ttl must be positive"},
		{name: "unknown flag", args: []string{"--name", "a"}, wantErr: "unknown flag"},
		{name: "positional", args: []string{"alice"}, wantErr: "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, ttl, err := parseBootstrapArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.ttl, ttl)
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "conf", "config.yaml")
	dbPath := filepath.Join(dir, "data", "trident.db")

	require.NoError(t, writeDefaultConfig(configPath, dbPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateServer())
	assert.Equal(t, dbPath, cfg.Server.DatabasePath)
	assert.Equal(t, "http://"+config.DefaultHTTPAddr, cfg.Remote.BaseURL)

	token, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret)).Generate("alice", time.Hour)
	require.NoError(t, err)
	user, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestLoadServerConfig_DefaultDatabasePath(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	cfg, err := loadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataHome, "trident", "trident.db"), cfg.Server.DatabasePath)
}
