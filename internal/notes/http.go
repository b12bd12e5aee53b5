package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every persistence call.
const DefaultTimeout = 5 * time.Second

// HTTPStore talks to the remote notes API under BaseURL (`/todos` routes).
type HTTPStore struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
}

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPStore builds a remote store.
func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: opts.Timeout,
		client:  opts.Client,
	}
}

type listResponse struct {
	Items []Note `json:"items"`
}

// Create posts the note and returns the stored record.
func (s *HTTPStore) Create(ctx context.Context, req CreateRequest) (Note, error) {
	req, err := Normalize(req)
	if err != nil {
		return Note{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Note{}, err
	}

	var note Note
	if err := s.do(ctx, http.MethodPost, "/todos", bytes.NewReader(body), &note); err != nil {
		return Note{}, fmt.Errorf("create note: %w", err)
	}
	if strings.TrimSpace(note.ID) == "" {
		return Note{}, errors.New("create note: response has no _id")
	}
	return note, nil
}

// List returns notes created by deviceID.
func (s *HTTPStore) List(ctx context.Context, deviceID string) ([]Note, error) {
	path := "/todos?" + url.Values{"deviceId": []string{deviceID}}.Encode()

	var resp listResponse
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	if resp.Items == nil {
		resp.Items = []Note{}
	}
	return resp.Items, nil
}

// Delete removes one note by id.
func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidNote)
	}
	if err := s.do(ctx, http.MethodDelete, "/todos/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	return nil
}

// Ping checks that the notes API answers at all.
func (s *HTTPStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("notes API returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail := strings.TrimSpace(string(payload))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail)
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
