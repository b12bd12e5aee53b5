// Package config resolves, parses, validates, and defaults notecap configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by notecap.
type Config struct {
	DeviceID    string
	Speech      SpeechConfig
	OCR         OCRConfig
	Persistence PersistenceConfig
	Capture     CaptureConfig
	Indicator   IndicatorConfig
	Clipboard   ClipboardConfig
	Server      ServerConfig
	Log         LogConfig
	Debug       DebugConfig

	// Credentials are never read from the config file itself.
	Credentials Credentials
}

// SpeechConfig describes the speech-to-text REST endpoint.
type SpeechConfig struct {
	Endpoint string
	Locale   string
	Format   string
	Timeout  time.Duration
}

// OCRConfig describes the text-detection REST endpoint.
type OCRConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// PersistenceConfig selects where created notes are stored.
type PersistenceConfig struct {
	Backend    string
	BaseURL    string
	Timeout    time.Duration
	SQLitePath string
}

const (
	BackendHTTP   = "http"
	BackendSQLite = "sqlite"
)

// CaptureConfig controls recording limits and media sources.
type CaptureConfig struct {
	MaxSeconds    int
	AudioInput    string
	AudioFallback string
	Photo         CommandConfig
	MaxWidth      int
	TempDir       string
}

// IndicatorConfig controls progress output and audio cues.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	Language       string
}

// ClipboardConfig optionally copies created note text to the clipboard.
type ClipboardConfig struct {
	Enable  bool
	Command CommandConfig
}

// ServerConfig controls the local notes API served by `notecap serve`.
type ServerConfig struct {
	Addr           string
	TrustedProxies []string
}

// LogConfig controls the JSONL logger.
type LogConfig struct {
	Level string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	Trace bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
