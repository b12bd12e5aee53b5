package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

const (
	appDirName      = "notecap"
	configFileName  = "config.jsonc"
	credentialsFile = "credentials.env"
)

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, appDirName, configFileName), nil
	}

	if strings.TrimSpace(xdg.Home) == "" {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(xdg.Home, ".config", appDirName, configFileName), nil
}

// CredentialsPath returns the dotenv file that sits next to the config file.
func CredentialsPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), credentialsFile)
}

// StateDir returns the per-user state directory used for logs, traces, and the device id.
func StateDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); dir != "" {
		return filepath.Join(dir, appDirName)
	}
	return filepath.Join(xdg.StateHome, appDirName)
}

// DataDir returns the per-user data directory holding the local notes database.
func DataDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return filepath.Join(dir, appDirName)
	}
	return filepath.Join(xdg.DataHome, appDirName)
}
