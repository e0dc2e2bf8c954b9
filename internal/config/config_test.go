package config

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, name := range []string{
		"JUNK_LEVEL", "JUNK_DISABLE_WBC", "JUNK_ENABLE_INO_REUSE",
		"JUNK_STRICT_INVARIANT", "JUNK_VERIFY_FLUSH",
	} {
		require.NoError(t, os.Unsetenv(name))
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, zerolog.ErrorLevel, cfg.LogLevel)
	require.False(t, cfg.DisableWritebackCache)
	require.True(t, cfg.EnableInoReuse)
	require.False(t, cfg.StrictInvariant)
	require.False(t, cfg.VerifyFlush)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JUNK_LEVEL", "debug")
	t.Setenv("JUNK_DISABLE_WBC", "1")
	t.Setenv("JUNK_ENABLE_INO_REUSE", "0")
	t.Setenv("JUNK_STRICT_INVARIANT", "1")
	t.Setenv("JUNK_VERIFY_FLUSH", "1")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	require.True(t, cfg.DisableWritebackCache)
	require.False(t, cfg.EnableInoReuse)
	require.True(t, cfg.StrictInvariant)
	require.True(t, cfg.VerifyFlush)
}

func TestFromEnvBadValue(t *testing.T) {
	t.Setenv("JUNK_DISABLE_WBC", "not-a-bool")
	_, err := FromEnv()
	require.Error(t, err)
}
