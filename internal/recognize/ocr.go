package recognize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const ocrProvider = "ocr"

// OCRClient posts images to an images:annotate style text-detection endpoint.
type OCRClient struct {
	cfg Config
}

// NewOCRClient builds an OCR client; the key is sent as the `key` query parameter.
func NewOCRClient(cfg Config) *OCRClient {
	return &OCRClient{cfg: cfg}
}

type ocrRequest struct {
	Requests []ocrImageRequest `json:"requests"`
}

type ocrImageRequest struct {
	Image    ocrImage     `json:"image"`
	Features []ocrFeature `json:"features"`
}

type ocrImage struct {
	Content string `json:"content"`
}

type ocrFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type ocrResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string `json:"description"`
			Locale      string `json:"locale"`
		} `json:"textAnnotations"`
		Error *ocrStatus `json:"error"`
	} `json:"responses"`
}

type ocrStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Transcribe uploads the image and returns the first annotation of the first response.
func (c *OCRClient) Transcribe(ctx context.Context, payload []byte) (string, bool, error) {
	if strings.TrimSpace(c.cfg.Key) == "" {
		return "", false, &Error{Provider: ocrProvider, Detail: "missing API key"}
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", false, &Error{Provider: ocrProvider, Detail: "invalid endpoint", Err: err}
	}
	query := endpoint.Query()
	query.Set("key", c.cfg.Key)
	endpoint.RawQuery = query.Encode()

	envelope, err := json.Marshal(ocrRequest{Requests: []ocrImageRequest{{
		Image:    ocrImage{Content: base64.StdEncoding.EncodeToString(payload)},
		Features: []ocrFeature{{Type: "TEXT_DETECTION", MaxResults: 1}},
	}}})
	if err != nil {
		return "", false, &Error{Provider: ocrProvider, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(envelope))
	if err != nil {
		return "", false, &Error{Provider: ocrProvider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := do(c.cfg.httpClient(), ocrProvider, req)
	if err != nil {
		return "", false, err
	}
	return parseOCR(body)
}

func parseOCR(body []byte) (string, bool, error) {
	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, &Error{Provider: ocrProvider, Detail: "malformed response", Err: err}
	}
	if len(parsed.Responses) == 0 {
		return "", false, nil
	}

	first := parsed.Responses[0]
	if first.Error != nil {
		return "", false, &Error{Provider: ocrProvider, Detail: fmt.Sprintf("code %d: %s", first.Error.Code, first.Error.Message)}
	}
	if len(first.TextAnnotations) == 0 {
		return "", false, nil
	}

	text := strings.TrimSpace(first.TextAnnotations[0].Description)
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}
