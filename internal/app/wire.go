package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/config"
	"github.com/rbright/notecap/internal/device"
	"github.com/rbright/notecap/internal/indicator"
	"github.com/rbright/notecap/internal/media"
	"github.com/rbright/notecap/internal/notes"
	"github.com/rbright/notecap/internal/pipeline"
	"github.com/rbright/notecap/internal/recognize"
	"github.com/rbright/notecap/internal/version"
)

const regionalSpeechEndpoint = "https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"

// userAgent stamps every outbound provider and notes API request.
type userAgent struct {
	next http.RoundTripper
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())
	return u.next.RoundTrip(req)
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: userAgent{next: http.DefaultTransport}}
}

// speechEndpoint swaps in the regional host when a region credential is set
// and the endpoint was left at its default.
func speechEndpoint(cfg config.Config) string {
	region := strings.TrimSpace(cfg.Credentials.SpeechRegion)
	if region == "" || cfg.Speech.Endpoint != config.DefaultSpeechEndpoint {
		return cfg.Speech.Endpoint
	}
	return fmt.Sprintf(regionalSpeechEndpoint, region)
}

func sqlitePath(cfg config.Config) string {
	if path := strings.TrimSpace(cfg.Persistence.SQLitePath); path != "" {
		return path
	}
	return config.DefaultSQLitePath()
}

// openStore builds the configured notes backend. close is never nil.
func openStore(ctx context.Context, cfg config.Config, client *http.Client) (notes.Store, func() error, error) {
	if cfg.Persistence.Backend == config.BackendSQLite {
		store, err := notes.OpenSQLite(ctx, sqlitePath(cfg))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	store := notes.NewHTTPStore(notes.HTTPOptions{
		BaseURL: cfg.Persistence.BaseURL,
		Token:   cfg.Credentials.NotesToken,
		Timeout: cfg.Persistence.Timeout,
		Client:  client,
	})
	return store, func() error { return nil }, nil
}

func deviceResolver(cfg config.Config) device.Resolver {
	return device.Resolver{
		Fs:        afero.NewOsFs(),
		Override:  cfg.DeviceID,
		StatePath: filepath.Join(config.StateDir(), "device-id"),
	}
}

// controllerDeps are the pieces a command needs to run the pipeline.
type controllerDeps struct {
	cfg       config.Config
	logger    *slog.Logger
	client    *http.Client
	store     notes.Store
	deviceID  string
	photo     capture.PhotoSource
	indicator pipeline.Indicator
}

func newController(deps controllerDeps) *pipeline.Controller {
	cfg := deps.cfg
	fs := afero.NewOsFs()

	captureCtl := capture.New(capture.Options{
		Fs:         fs,
		TempDir:    cfg.Capture.TempDir,
		MaxSeconds: cfg.Capture.MaxSeconds,
		Voice: &capture.PulseVoice{
			Fs:       fs,
			Input:    cfg.Capture.AudioInput,
			Fallback: cfg.Capture.AudioFallback,
			Logger:   deps.logger,
		},
		Photo: deps.photo,
	})

	var speech, ocr recognize.Client
	if strings.TrimSpace(cfg.Credentials.SpeechKey) != "" {
		speech = recognize.NewSpeechClient(recognize.Config{
			Endpoint:   speechEndpoint(cfg),
			Key:        cfg.Credentials.SpeechKey,
			Locale:     cfg.Speech.Locale,
			Format:     cfg.Speech.Format,
			Timeout:    cfg.Speech.Timeout,
			HTTPClient: deps.client,
		})
	}
	if strings.TrimSpace(cfg.Credentials.OCRKey) != "" {
		ocr = recognize.NewOCRClient(recognize.Config{
			Endpoint:   cfg.OCR.Endpoint,
			Key:        cfg.Credentials.OCRKey,
			Timeout:    cfg.OCR.Timeout,
			HTTPClient: deps.client,
		})
	}

	return pipeline.New(pipeline.Options{
		Logger:       deps.logger,
		Fs:           fs,
		Capture:      captureCtl,
		Preprocessor: media.New(fs, deps.logger),
		Speech:       speech,
		OCR:          ocr,
		Store:        deps.store,
		DeviceID:     deps.deviceID,
		MaxWidth:     cfg.Capture.MaxWidth,
		Indicator:    deps.indicator,
	})
}

func newIndicator(cfg config.Config, r Runner, logger *slog.Logger) pipeline.Indicator {
	return indicator.New(cfg.Indicator, r.Stderr, logger)
}
