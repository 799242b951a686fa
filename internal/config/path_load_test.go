package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "voicebridge", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "voicebridge", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := load(path, "", noEnv)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "server": {
    "origin": "http://127.0.0.1:8000",
  },
  "playback": {
    "policy": "overlap"
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := load(path, "", noEnv)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "http://127.0.0.1:8000", loaded.Config.Server.Origin)
	require.Equal(t, PlaybackPolicyOverlap, loaded.Config.Playback.Policy)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := load(path, "", noEnv)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

func TestLoadAppliesDotenvThenProcessEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("VOICEBRIDGE_ORIGIN=https://from-dotenv.example\nVOICEBRIDGE_LOG_LEVEL=warn\n"), 0o600))

	loaded, err := load(filepath.Join(dir, "missing.jsonc"), dotenv, noEnv)
	require.NoError(t, err)
	require.Equal(t, dotenv, loaded.Dotenv)
	require.Equal(t, "https://from-dotenv.example", loaded.Config.Server.Origin)
	require.Equal(t, "warn", loaded.Config.Log.Level)

	lookup := func(key string) (string, bool) {
		if key == EnvOrigin {
			return "http://from-process:9000", true
		}
		return "", false
	}
	loaded, err = load(filepath.Join(dir, "missing.jsonc"), dotenv, lookup)
	require.NoError(t, err)
	require.Equal(t, "http://from-process:9000", loaded.Config.Server.Origin)
	require.Equal(t, "warn", loaded.Config.Log.Level)
}

func TestLoadMissingDotenvIsIgnored(t *testing.T) {
	dir := t.TempDir()
	loaded, err := load(filepath.Join(dir, "missing.jsonc"), filepath.Join(dir, ".env"), noEnv)
	require.NoError(t, err)
	require.Empty(t, loaded.Dotenv)
}

func TestLoadRejectsInvalidEnvOverride(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == EnvLogLevel {
			return "loud", true
		}
		return "", false
	}
	_, err := load(filepath.Join(t.TempDir(), "missing.jsonc"), "", lookup)
	require.ErrorContains(t, err, "environment override")
	require.ErrorContains(t, err, "log.level")
}
