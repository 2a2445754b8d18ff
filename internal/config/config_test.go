package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notegate/api/internal/membership"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, membership.PolicySingleOwner, cfg.OwnershipPolicy)
	assert.True(t, cfg.RequireInviteEmailMatch)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.EmailEnabled())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notegate.ini")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"API_ADDR = :9000",
		"NOTEGATE_OWNERSHIP_POLICY = multi-owner",
		"NOTEGATE_INVITE_TTL = 48h",
		"LOG_FORMAT = text",
	}, "\n")), 0o600))
	t.Setenv("API_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, membership.PolicyMultiOwner, cfg.OwnershipPolicy)
	assert.Equal(t, 48*time.Hour, cfg.InviteTTL)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("NOTEGATE_OWNERSHIP_POLICY", "committee")
	_, err := Load("")
	assert.Error(t, err)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("NOTEGATE_ACCESS_TTL_SECONDS", "soon")
	t.Setenv("NOTEGATE_OPERATION_TIMEOUT", "fast")
	t.Setenv("NOTEGATE_REQUIRE_INVITE_EMAIL_MATCH", "maybe")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	assert.True(t, cfg.RequireInviteEmailMatch)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "shared secret", mutate: func(c *Config) { c.InviteSecret = c.SessionSecret }, want: "must differ"},
		{name: "empty secret", mutate: func(c *Config) { c.SessionSecret = "" }, want: "required"},
		{name: "bad schedule", mutate: func(c *Config) { c.SweepSchedule = "whenever" }, want: "sweep schedule"},
		{name: "zero timeout", mutate: func(c *Config) { c.OperationTimeout = 0 }, want: "operation timeout"},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, want: "loud"},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "xml" }, want: "log format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	disabled := base
	disabled.SweepSchedule = ""
	assert.NoError(t, disabled.Validate())
}
