package config

import "time"

const (
	DefaultSpeechEndpoint = "https://westeurope.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
	DefaultOCREndpoint    = "https://vision.googleapis.com/v1/images:annotate"
	DefaultNotesBaseURL   = "http://127.0.0.1:8080/api"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Speech: SpeechConfig{
			Endpoint: DefaultSpeechEndpoint,
			Locale:   "en-US",
			Format:   "detailed",
			Timeout:  30 * time.Second,
		},
		OCR: OCRConfig{
			Endpoint: DefaultOCREndpoint,
			Timeout:  30 * time.Second,
		},
		Persistence: PersistenceConfig{
			Backend: BackendHTTP,
			BaseURL: DefaultNotesBaseURL,
			Timeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			MaxSeconds:    60,
			AudioInput:    "default",
			AudioFallback: "default",
			MaxWidth:      1024,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "terminal",
			DesktopAppName: "notecap",
			SoundEnable:    true,
			Language:       "en",
		},
		Clipboard: ClipboardConfig{
			Enable:  false,
			Command: CommandConfig{Raw: clipboard, Argv: mustParseCommand(clipboard)},
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
		Log:    LogConfig{Level: "info"},
		Debug:  DebugConfig{},
	}
}
