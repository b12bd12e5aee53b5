package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration, then
// layers provider credentials from the environment on top.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded, err := loadFile(resolvedPath)
	if err != nil {
		return Loaded{}, err
	}

	creds, err := LoadCredentials(CredentialsPath(resolvedPath))
	if err != nil {
		return Loaded{}, err
	}
	loaded.Config.Credentials = creds

	if strings.TrimSpace(loaded.Config.Persistence.SQLitePath) == "" && loaded.Config.Persistence.Backend == BackendSQLite {
		loaded.Config.Persistence.SQLitePath = DefaultSQLitePath()
	}
	return loaded, nil
}

func loadFile(resolvedPath string) (Loaded, error) {
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
