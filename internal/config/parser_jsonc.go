package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

type jsoncConfig struct {
	DeviceID    *string           `json:"device_id"`
	Speech      *jsoncSpeech      `json:"speech"`
	OCR         *jsoncOCR         `json:"ocr"`
	Persistence *jsoncPersistence `json:"persistence"`
	Capture     *jsoncCapture     `json:"capture"`
	Indicator   *jsoncIndicator   `json:"indicator"`
	Clipboard   *jsoncClipboard   `json:"clipboard"`
	Server      *jsoncServer      `json:"server"`
	Log         *jsoncLog         `json:"log"`
	Debug       *jsoncDebug       `json:"debug"`
}

type jsoncSpeech struct {
	Endpoint  *string `json:"endpoint"`
	Locale    *string `json:"locale"`
	Format    *string `json:"format"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncOCR struct {
	Endpoint  *string `json:"endpoint"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncPersistence struct {
	Backend    *string `json:"backend"`
	BaseURL    *string `json:"base_url"`
	TimeoutMS  *int    `json:"timeout_ms"`
	SQLitePath *string `json:"sqlite_path"`
}

type jsoncCapture struct {
	MaxSeconds *int        `json:"max_seconds"`
	Audio      *jsoncAudio `json:"audio"`
	Photo      *jsoncPhoto `json:"photo"`
	TempDir    *string     `json:"temp_dir"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncPhoto struct {
	Command  *string `json:"command"`
	MaxWidth *int    `json:"max_width"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	Language       *string `json:"language"`
}

type jsoncClipboard struct {
	Enable  *bool   `json:"enable"`
	Command *string `json:"command"`
}

type jsoncServer struct {
	Addr           *string          `json:"addr"`
	TrustedProxies *jsoncStringList `json:"trusted_proxies"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

type jsoncDebug struct {
	Trace *bool `json:"trace"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.DeviceID != nil {
		cfg.DeviceID = strings.TrimSpace(*payload.DeviceID)
	}

	if payload.Speech != nil {
		if payload.Speech.Endpoint != nil {
			cfg.Speech.Endpoint = strings.TrimSpace(*payload.Speech.Endpoint)
		}
		if payload.Speech.Locale != nil {
			cfg.Speech.Locale = strings.TrimSpace(*payload.Speech.Locale)
		}
		if payload.Speech.Format != nil {
			cfg.Speech.Format = strings.ToLower(strings.TrimSpace(*payload.Speech.Format))
		}
		if payload.Speech.TimeoutMS != nil {
			cfg.Speech.Timeout = millis(*payload.Speech.TimeoutMS)
		}
	}

	if payload.OCR != nil {
		if payload.OCR.Endpoint != nil {
			cfg.OCR.Endpoint = strings.TrimSpace(*payload.OCR.Endpoint)
		}
		if payload.OCR.TimeoutMS != nil {
			cfg.OCR.Timeout = millis(*payload.OCR.TimeoutMS)
		}
	}

	if payload.Persistence != nil {
		if payload.Persistence.Backend != nil {
			cfg.Persistence.Backend = strings.ToLower(strings.TrimSpace(*payload.Persistence.Backend))
		}
		if payload.Persistence.BaseURL != nil {
			cfg.Persistence.BaseURL = strings.TrimRight(strings.TrimSpace(*payload.Persistence.BaseURL), "/")
		}
		if payload.Persistence.TimeoutMS != nil {
			cfg.Persistence.Timeout = millis(*payload.Persistence.TimeoutMS)
		}
		if payload.Persistence.SQLitePath != nil {
			cfg.Persistence.SQLitePath = strings.TrimSpace(*payload.Persistence.SQLitePath)
		}
	}

	if payload.Capture != nil {
		if payload.Capture.MaxSeconds != nil {
			cfg.Capture.MaxSeconds = *payload.Capture.MaxSeconds
		}
		if payload.Capture.TempDir != nil {
			cfg.Capture.TempDir = strings.TrimSpace(*payload.Capture.TempDir)
		}
		if audio := payload.Capture.Audio; audio != nil {
			if audio.Input != nil {
				cfg.Capture.AudioInput = *audio.Input
			}
			if audio.Fallback != nil {
				cfg.Capture.AudioFallback = *audio.Fallback
			}
		}
		if photo := payload.Capture.Photo; photo != nil {
			if photo.Command != nil {
				raw := *photo.Command
				argv, err := parseCommand(raw)
				if err != nil {
					return nil, fmt.Errorf("invalid capture.photo.command: %w", err)
				}
				cfg.Capture.Photo = CommandConfig{Raw: raw, Argv: argv}
			}
			if photo.MaxWidth != nil {
				cfg.Capture.MaxWidth = *photo.MaxWidth
			}
		}
	}

	if payload.Indicator != nil {
		if payload.Indicator.Enable != nil {
			cfg.Indicator.Enable = *payload.Indicator.Enable
		}
		if payload.Indicator.Backend != nil {
			cfg.Indicator.Backend = strings.TrimSpace(*payload.Indicator.Backend)
		}
		if payload.Indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*payload.Indicator.DesktopAppName)
		}
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
		if payload.Indicator.Language != nil {
			cfg.Indicator.Language = strings.ToLower(strings.TrimSpace(*payload.Indicator.Language))
		}
	}

	if payload.Clipboard != nil {
		if payload.Clipboard.Enable != nil {
			cfg.Clipboard.Enable = *payload.Clipboard.Enable
		}
		if payload.Clipboard.Command != nil {
			raw := *payload.Clipboard.Command
			argv, err := parseCommand(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid clipboard.command: %w", err)
			}
			cfg.Clipboard.Command = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if payload.Server != nil {
		if payload.Server.Addr != nil {
			cfg.Server.Addr = strings.TrimSpace(*payload.Server.Addr)
		}
		if payload.Server.TrustedProxies != nil {
			cfg.Server.TrustedProxies = append([]string(nil), (*payload.Server.TrustedProxies)...)
		}
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
	}

	if payload.Debug != nil && payload.Debug.Trace != nil {
		cfg.Debug.Trace = *payload.Debug.Trace
	}

	if payload.Persistence != nil && payload.Persistence.SQLitePath != nil && cfg.Persistence.Backend != BackendSQLite {
		warnings = append(warnings, Warning{Message: "persistence.sqlite_path is ignored unless persistence.backend=sqlite"})
	}

	return warnings, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
