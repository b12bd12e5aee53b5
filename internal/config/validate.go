package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateURL("speech.endpoint", cfg.Speech.Endpoint); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Speech.Locale) == "" {
		return nil, fmt.Errorf("speech.locale must not be empty")
	}
	if cfg.Speech.Format != "simple" && cfg.Speech.Format != "detailed" {
		return nil, fmt.Errorf("speech.format must be one of: simple, detailed")
	}
	if err := validateTimeout("speech.timeout_ms", cfg.Speech.Timeout); err != nil {
		return nil, err
	}
	if err := validateURL("ocr.endpoint", cfg.OCR.Endpoint); err != nil {
		return nil, err
	}
	if err := validateTimeout("ocr.timeout_ms", cfg.OCR.Timeout); err != nil {
		return nil, err
	}

	switch cfg.Persistence.Backend {
	case BackendHTTP:
		if err := validateURL("persistence.base_url", cfg.Persistence.BaseURL); err != nil {
			return nil, err
		}
	case BackendSQLite:
	default:
		return nil, fmt.Errorf("persistence.backend must be one of: http, sqlite")
	}
	if err := validateTimeout("persistence.timeout_ms", cfg.Persistence.Timeout); err != nil {
		return nil, err
	}

	if cfg.Capture.MaxSeconds <= 0 {
		return nil, fmt.Errorf("capture.max_seconds must be > 0")
	}
	if cfg.Capture.MaxWidth <= 0 {
		return nil, fmt.Errorf("capture.photo.max_width must be > 0")
	}
	if cfg.Capture.Photo.Raw != "" && len(cfg.Capture.Photo.Argv) == 0 {
		return nil, fmt.Errorf("capture.photo.command is configured but empty")
	}
	if len(cfg.Capture.Photo.Argv) > 0 && !strings.Contains(cfg.Capture.Photo.Raw, OutputPlaceholder) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("capture.photo.command has no %s placeholder; the output path is appended", OutputPlaceholder)})
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "terminal" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: terminal, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.Language != "en" && cfg.Indicator.Language != "uk" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("indicator.language %q is not supported; using en", cfg.Indicator.Language)})
	}

	if cfg.Clipboard.Enable && len(cfg.Clipboard.Command.Argv) == 0 {
		return nil, fmt.Errorf("clipboard.command must not be empty when clipboard.enable=true")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return nil, fmt.Errorf("server.addr must not be empty")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func validateURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func validateTimeout(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	return nil
}
