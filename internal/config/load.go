package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. Process environment wins over the .env file, and
// both win over the config file.
const (
	EnvOrigin   = "VOICEBRIDGE_ORIGIN"
	EnvLogLevel = "VOICEBRIDGE_LOG_LEVEL"

	DotenvFile = ".env"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
	// Dotenv is the .env path that was read, empty when none was found.
	Dotenv string
}

// Load resolves, reads, parses, and validates the runtime configuration,
// then applies .env and environment overrides.
func Load(explicitPath string) (Loaded, error) {
	return load(explicitPath, DotenvFile, os.LookupEnv)
}

func load(explicitPath string, dotenvPath string, lookup func(string) (string, bool)) (Loaded, error) {
	loaded, err := loadFile(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	env, err := readDotenv(dotenvPath)
	if err != nil {
		return Loaded{}, err
	}
	if env != nil {
		loaded.Dotenv = dotenvPath
	}

	getenv := func(key string) (string, bool) {
		if value, ok := lookup(key); ok {
			return value, true
		}
		value, ok := env[key]
		return value, ok
	}

	overridden := false
	if origin, ok := getenv(EnvOrigin); ok && strings.TrimSpace(origin) != "" {
		loaded.Config.Server.Origin = strings.TrimSpace(origin)
		overridden = true
	}
	if level, ok := getenv(EnvLogLevel); ok && strings.TrimSpace(level) != "" {
		loaded.Config.Log.Level = strings.ToLower(strings.TrimSpace(level))
		overridden = true
	}
	if !overridden {
		return loaded, nil
	}

	if _, err := Validate(loaded.Config); err != nil {
		return Loaded{}, fmt.Errorf("environment override: %w", err)
	}
	return loaded, nil
}

func loadFile(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{
				Path:   resolvedPath,
				Config: base,
				Warnings: []Warning{{
					Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
				}},
				Exists: false,
			}, nil
		}
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}

// readDotenv returns nil when path does not exist.
func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return env, nil
}
