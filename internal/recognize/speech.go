package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	speechProvider    = "speech"
	speechContentType = "audio/wav; codecs=audio/pcm; samplerate=16000"
	speechKeyHeader   = "Ocp-Apim-Subscription-Key"
)

// SpeechClient posts WAV audio to a short-audio speech-to-text REST endpoint.
type SpeechClient struct {
	cfg Config
}

// NewSpeechClient builds a speech client; Locale and Format become query parameters.
func NewSpeechClient(cfg Config) *SpeechClient {
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "detailed"
	}
	return &SpeechClient{cfg: cfg}
}

type speechResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	NBest             []struct {
		Display    string  `json:"Display"`
		Lexical    string  `json:"Lexical"`
		Confidence float64 `json:"Confidence"`
	} `json:"NBest"`
}

// Transcribe uploads the recording and picks the top-level display text, then
// the best alternative. Without either, the call fails with the provider's
// recognition status as detail; speech never yields the no-content outcome.
func (c *SpeechClient) Transcribe(ctx context.Context, payload []byte) (string, bool, error) {
	if strings.TrimSpace(c.cfg.Key) == "" {
		return "", false, &Error{Provider: speechProvider, Detail: "missing subscription key"}
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", false, &Error{Provider: speechProvider, Detail: "invalid endpoint", Err: err}
	}
	query := endpoint.Query()
	if c.cfg.Locale != "" {
		query.Set("language", c.cfg.Locale)
	}
	query.Set("format", c.cfg.Format)
	endpoint.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return "", false, &Error{Provider: speechProvider, Err: err}
	}
	req.Header.Set("Content-Type", speechContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(speechKeyHeader, c.cfg.Key)

	body, err := do(c.cfg.httpClient(), speechProvider, req)
	if err != nil {
		return "", false, err
	}
	return parseSpeech(body)
}

func parseSpeech(body []byte) (string, bool, error) {
	var parsed speechResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, &Error{Provider: speechProvider, Detail: "malformed response", Err: err}
	}

	if text := strings.TrimSpace(parsed.DisplayText); text != "" {
		return text, true, nil
	}
	if len(parsed.NBest) > 0 {
		if text := strings.TrimSpace(parsed.NBest[0].Display); text != "" {
			return text, true, nil
		}
	}

	status := strings.TrimSpace(parsed.RecognitionStatus)
	if status == "" {
		return "", false, &Error{Provider: speechProvider, Detail: "response has no transcript or status", Err: errors.New("unrecognized response shape")}
	}
	return "", false, &Error{Provider: speechProvider, Detail: status}
}
