// Package doctor runs readiness diagnostics for config, credentials, capture
// devices, providers, and persistence.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/notecap/internal/audio"
	"github.com/rbright/notecap/internal/config"
	"github.com/rbright/notecap/internal/device"
	"github.com/rbright/notecap/internal/notes"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes replaces live checks in tests. Nil fields use the real implementation.
type Probes struct {
	SelectDevice func(ctx context.Context, input, fallback string) (audio.Selection, error)
	Persistence  func(ctx context.Context, cfg config.PersistenceConfig, token string) error
	Device       func() (device.Identity, error)
	HTTPClient   *http.Client
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks,
		checkSecret("credentials.speech", cfg.Credentials.SpeechKey, "NOTECAP_SPEECH_KEY", cfg.Credentials.Source),
		checkSecret("credentials.ocr", cfg.Credentials.OCRKey, "NOTECAP_OCR_KEY", cfg.Credentials.Source),
		checkEndpoint(ctx, probes.httpClient(), "speech.endpoint", cfg.Speech.Endpoint),
		checkEndpoint(ctx, probes.httpClient(), "ocr.endpoint", cfg.OCR.Endpoint),
		checkAudioSelection(ctx, cfg, probes.selectDevice()),
	)

	if len(cfg.Capture.Photo.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Capture.Photo.Argv, "photo_cmd"))
	}
	if cfg.Clipboard.Enable {
		checks = append(checks, checkCommand(cfg.Clipboard.Command.Argv, "clipboard_cmd"))
	}

	checks = append(checks,
		checkPersistence(ctx, cfg, probes.persistence()),
		checkDevice(probes.Device),
	)

	return Report{Checks: checks}
}

func (p Probes) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: probeTimeout}
}

func (p Probes) selectDevice() func(context.Context, string, string) (audio.Selection, error) {
	if p.SelectDevice != nil {
		return p.SelectDevice
	}
	return audio.SelectDevice
}

func (p Probes) persistence() func(context.Context, config.PersistenceConfig, string) error {
	if p.Persistence != nil {
		return p.Persistence
	}
	return pingPersistence
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("%q not found, using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s (%d warning(s))", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

func checkSecret(name, value, envName, source string) Check {
	if strings.TrimSpace(value) == "" {
		return Check{Name: name, Pass: false, Message: envName + " is not set"}
	}
	if source == "" {
		source = "environment"
	}
	return Check{Name: name, Pass: true, Message: "set from " + source}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkEndpoint treats any non-5xx answer as reachable; providers reject
// unauthenticated GETs with 4xx.
func checkEndpoint(ctx context.Context, client *http.Client, name, endpoint string) Check {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Check{Name: name, Pass: false, Message: "endpoint is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config, selectDevice func(context.Context, string, string) (audio.Selection, error)) Check {
	selection, err := selectDevice(ctx, cfg.Capture.AudioInput, cfg.Capture.AudioFallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkPersistence(ctx context.Context, cfg config.Config, ping func(context.Context, config.PersistenceConfig, string) error) Check {
	name := "persistence." + cfg.Persistence.Backend
	if err := ping(ctx, cfg.Persistence, cfg.Credentials.NotesToken); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	target := cfg.Persistence.BaseURL
	if cfg.Persistence.Backend == config.BackendSQLite {
		target = cfg.Persistence.SQLitePath
	}
	return Check{Name: name, Pass: true, Message: "ready at " + target}
}

func pingPersistence(ctx context.Context, cfg config.PersistenceConfig, token string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if cfg.Backend == config.BackendSQLite {
		store, err := notes.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return store.Ping(ctx)
	}
	return notes.NewHTTPStore(notes.HTTPOptions{BaseURL: cfg.BaseURL, Token: token, Timeout: probeTimeout}).Ping(ctx)
}

func checkDevice(resolve func() (device.Identity, error)) Check {
	if resolve == nil {
		return Check{Name: "device.id", Pass: false, Message: "no resolver configured"}
	}
	identity, err := resolve()
	if err != nil {
		return Check{Name: "device.id", Pass: false, Message: err.Error()}
	}
	return Check{Name: "device.id", Pass: true, Message: fmt.Sprintf("%s (%s)", identity.ID, identity.Origin)}
}
