// Package notes stores captured notes behind a small create/list/delete contract.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source is the capture mode a note came from.
type Source string

const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
	SourcePhoto Source = "photo"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceText, SourceVoice, SourcePhoto:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidNote = errors.New("invalid note")
	ErrNotFound    = errors.New("note not found")
)

// Note is a persisted note. ID is assigned by the store and serialized as `_id`.
type Note struct {
	ID        string    `json:"_id"`
	DeviceID  string    `json:"deviceId"`
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateRequest is the create payload.
type CreateRequest struct {
	DeviceID string `json:"deviceId"`
	Text     string `json:"text"`
	Source   Source `json:"source"`
}

// Store is the persistence service contract.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (Note, error)
	List(ctx context.Context, deviceID string) ([]Note, error)
	Delete(ctx context.Context, id string) error
}

// Normalize trims the request text and rejects empty fields or unknown sources.
func Normalize(req CreateRequest) (CreateRequest, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.Text = strings.TrimSpace(req.Text)
	if req.DeviceID == "" {
		return CreateRequest{}, fmt.Errorf("%w: deviceId is required", ErrInvalidNote)
	}
	if req.Text == "" {
		return CreateRequest{}, fmt.Errorf("%w: text is empty", ErrInvalidNote)
	}
	if !req.Source.Valid() {
		return CreateRequest{}, fmt.Errorf("%w: unknown source %q", ErrInvalidNote, req.Source)
	}
	return req, nil
}
