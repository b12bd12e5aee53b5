package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Credentials are provider keys sourced from the environment, never from config.jsonc.
type Credentials struct {
	SpeechKey    string `env:"NOTECAP_SPEECH_KEY"`
	SpeechRegion string `env:"NOTECAP_SPEECH_REGION"`
	OCRKey       string `env:"NOTECAP_OCR_KEY"`
	NotesToken   string `env:"NOTECAP_NOTES_TOKEN"`

	// Source records where the keys were found, for doctor output.
	Source string
}

// LoadCredentials reads credentials from the process environment, filling
// unset variables from the optional dotenv file at dotenvPath.
func LoadCredentials(dotenvPath string) (Credentials, error) {
	var creds Credentials
	if _, err := env.UnmarshalFromEnviron(&creds); err != nil {
		return Credentials{}, fmt.Errorf("read credentials from environment: %w", err)
	}
	creds.Source = "environment"

	if strings.TrimSpace(dotenvPath) == "" {
		return creds, nil
	}

	file, err := os.Open(dotenvPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return creds, nil
		}
		return Credentials{}, fmt.Errorf("open credentials %q: %w", dotenvPath, err)
	}
	defer func() { _ = file.Close() }()

	values, err := godotenv.Parse(file)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %q: %w", dotenvPath, err)
	}

	var fromFile Credentials
	if err := env.Unmarshal(env.EnvSet(values), &fromFile); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials %q: %w", dotenvPath, err)
	}

	merged := false
	if creds.SpeechKey == "" && fromFile.SpeechKey != "" {
		creds.SpeechKey, merged = fromFile.SpeechKey, true
	}
	if creds.SpeechRegion == "" && fromFile.SpeechRegion != "" {
		creds.SpeechRegion, merged = fromFile.SpeechRegion, true
	}
	if creds.OCRKey == "" && fromFile.OCRKey != "" {
		creds.OCRKey, merged = fromFile.OCRKey, true
	}
	if creds.NotesToken == "" && fromFile.NotesToken != "" {
		creds.NotesToken, merged = fromFile.NotesToken, true
	}
	if merged {
		creds.Source = filepath.Base(dotenvPath)
	}
	return creds, nil
}

// DefaultSQLitePath is the local notes database used by the sqlite backend.
func DefaultSQLitePath() string {
	return filepath.Join(DataDir(), "notes.db")
}
