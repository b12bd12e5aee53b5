// Package recognize converts prepared media bytes into text through remote providers.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRecognitionFailed covers transport failures, non-2xx responses, and malformed bodies.
var ErrRecognitionFailed = errors.New("recognition failed")

const (
	DefaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
	maxDetailBytes   = 512
)

// Client is the shared contract of every provider. found=false with a nil
// error means the provider answered well-formed but detected nothing.
type Client interface {
	Transcribe(ctx context.Context, payload []byte) (text string, found bool, err error)
}

// Config holds one provider's endpoint, credential, and call bound.
type Config struct {
	Endpoint   string
	Key        string
	Locale     string
	Format     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Error carries provider detail for a failed recognition. It matches ErrRecognitionFailed.
type Error struct {
	Provider   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" recognition failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrRecognitionFailed }

// do executes req and returns the body of a 2xx response.
func do(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Provider: provider, Detail: "timed out", Err: err}
		}
		return nil, &Error{Provider: provider, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Provider: provider, StatusCode: resp.StatusCode, Detail: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if len(detail) > maxDetailBytes {
			detail = detail[:maxDetailBytes]
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{Provider: provider, StatusCode: resp.StatusCode, Detail: detail}
	}
	return body, nil
}
