// Package capture acquires one raw media artifact per session from a microphone or photo source.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/rbright/notecap/internal/timer"
)

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSessionAlreadyActive = errors.New("capture session already active")
	ErrNoActiveSession      = errors.New("no active capture session")
	// ErrCaptureFailed wraps device failures that leave no usable artifact.
	ErrCaptureFailed = errors.New("capture failed")
)

// Kind names a device permission.
type Kind string

const (
	KindMicrophone Kind = "microphone"
	KindCamera     Kind = "camera"
)

// Mode is a capture mode producing a media artifact.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModePhoto Mode = "photo"
)

// Kind returns the permission a mode requires.
func (m Mode) Kind() Kind {
	if m == ModePhoto {
		return KindCamera
	}
	return KindMicrophone
}

func (m Mode) extension() string {
	if m == ModePhoto {
		return ".jpg"
	}
	return ".wav"
}

// Session is the ephemeral state of the active capture.
type Session struct {
	Mode         Mode
	ArtifactPath string
	Elapsed      int
	StartedAt    time.Time
}

// Artifact is the raw media handed to preprocessing once capture ends.
type Artifact struct {
	Mode    Mode
	Path    string
	Size    int64
	Elapsed int
	Device  string
}

// Hooks receive timer progress for a voice session. Both are optional.
type Hooks struct {
	OnTick    func(elapsed, max int)
	OnTimeout func()
}

// Recorder is one running voice recording.
type Recorder interface {
	Stop() error
	Device() string
}

// VoiceSource resolves the microphone and starts recordings into a file.
type VoiceSource interface {
	Permit(ctx context.Context) error
	Begin(ctx context.Context, path string) (Recorder, error)
}

// PhotoSource resolves the camera or image file and writes one still into a file.
type PhotoSource interface {
	Permit(ctx context.Context) error
	Take(ctx context.Context, path string) error
	Name() string
}

// Options configures a Capture.
type Options struct {
	Fs         afero.Fs
	TempDir    string
	MaxSeconds int
	Voice      VoiceSource
	Photo      PhotoSource
	Timer      *timer.SessionTimer
}

// Capture owns device permissions, the single active session, and the session timer.
type Capture struct {
	fs         afero.Fs
	tempDir    string
	maxSeconds int
	voice      VoiceSource
	photo      PhotoSource
	timer      *timer.SessionTimer

	mu      sync.Mutex
	granted map[Kind]bool
	active  *activeSession
}

type activeSession struct {
	Session
	recorder Recorder
}

// New builds a Capture. Nil sources make the matching mode unavailable.
func New(opts Options) *Capture {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = 60
	}
	if opts.Timer == nil {
		opts.Timer = timer.New(time.Second)
	}
	return &Capture{
		fs:         opts.Fs,
		tempDir:    opts.TempDir,
		maxSeconds: opts.MaxSeconds,
		voice:      opts.Voice,
		photo:      opts.Photo,
		timer:      opts.Timer,
		granted:    make(map[Kind]bool),
	}
}

// MaxSeconds is the voice recording limit enforced by the timer.
func (c *Capture) MaxSeconds() int {
	return c.maxSeconds
}

// RequestPermission checks that the device behind kind is usable and remembers the answer.
func (c *Capture) RequestPermission(ctx context.Context, kind Kind) bool {
	var err error
	switch kind {
	case KindMicrophone:
		if c.voice == nil {
			err = errors.New("no voice source configured")
		} else {
			err = c.voice.Permit(ctx)
		}
	case KindCamera:
		if c.photo == nil {
			err = errors.New("no photo source configured")
		} else {
			err = c.photo.Permit(ctx)
		}
	default:
		err = fmt.Errorf("unknown permission kind %q", kind)
	}

	c.mu.Lock()
	c.granted[kind] = err == nil
	c.mu.Unlock()
	return err == nil
}

// PermissionError returns why kind would be denied, or nil when it is granted.
func (c *Capture) PermissionError(ctx context.Context, kind Kind) error {
	switch kind {
	case KindMicrophone:
		if c.voice == nil {
			return fmt.Errorf("%w: no voice source configured", ErrPermissionDenied)
		}
		if err := c.voice.Permit(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	case KindCamera:
		if c.photo == nil {
			return fmt.Errorf("%w: no photo source configured", ErrPermissionDenied)
		}
		if err := c.photo.Permit(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	default:
		return fmt.Errorf("%w: unknown permission kind %q", ErrPermissionDenied, kind)
	}
	return nil
}

// Active returns a snapshot of the running session.
func (c *Capture) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Session{}, false
	}
	return c.active.Session, true
}

// Start begins a session. Voice starts recording and arms the timer; photo
// only reserves the artifact until Stop takes the picture.
func (c *Capture) Start(ctx context.Context, mode Mode, hooks Hooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ErrSessionAlreadyActive
	}
	if !c.granted[mode.Kind()] {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, mode.Kind())
	}

	session := &activeSession{Session: Session{
		Mode:         mode,
		ArtifactPath: filepath.Join(c.tempDir, "notecap-"+uuid.NewString()+mode.extension()),
		StartedAt:    time.Now(),
	}}

	switch mode {
	case ModeVoice:
		if err := c.fs.MkdirAll(c.tempDir, 0o700); err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		rec, err := c.voice.Begin(ctx, session.ArtifactPath)
		if err != nil {
			c.removeQuietly(session.ArtifactPath)
			return fmt.Errorf("%w: start recording: %w", ErrCaptureFailed, err)
		}
		session.recorder = rec
		c.active = session
		c.armTimer(session, hooks)
	case ModePhoto:
		c.active = session
	default:
		return fmt.Errorf("unknown capture mode %q", mode)
	}
	return nil
}

// armTimer must be called with c.mu held.
func (c *Capture) armTimer(session *activeSession, hooks Hooks) {
	limit := c.maxSeconds
	c.timer.Arm(limit, func(elapsed int) {
		c.mu.Lock()
		live := c.active == session
		if live {
			session.Elapsed = elapsed
		}
		c.mu.Unlock()
		if live && hooks.OnTick != nil {
			hooks.OnTick(elapsed, limit)
		}
	}, func() {
		c.mu.Lock()
		live := c.active == session
		c.mu.Unlock()
		if live && hooks.OnTimeout != nil {
			hooks.OnTimeout()
		}
	})
}

// Stop ends the active session and returns its artifact. The timer is always disarmed.
func (c *Capture) Stop(ctx context.Context) (Artifact, error) {
	session, err := c.detach()
	if err != nil {
		return Artifact{}, err
	}

	artifact := Artifact{Mode: session.Mode, Path: session.ArtifactPath, Elapsed: session.Elapsed}
	switch session.Mode {
	case ModeVoice:
		artifact.Device = session.recorder.Device()
		if err := session.recorder.Stop(); err != nil {
			c.removeQuietly(session.ArtifactPath)
			return Artifact{}, fmt.Errorf("%w: stop recording: %w", ErrCaptureFailed, err)
		}
	case ModePhoto:
		artifact.Device = c.photo.Name()
		if err := c.fs.MkdirAll(c.tempDir, 0o700); err != nil {
			return Artifact{}, fmt.Errorf("create temp dir: %w", err)
		}
		if err := c.photo.Take(ctx, session.ArtifactPath); err != nil {
			c.removeQuietly(session.ArtifactPath)
			return Artifact{}, fmt.Errorf("%w: take photo: %w", ErrCaptureFailed, err)
		}
	}

	if info, err := c.fs.Stat(session.ArtifactPath); err == nil {
		artifact.Size = info.Size()
	}
	return artifact, nil
}

// Abort ends the active session without producing an artifact.
func (c *Capture) Abort(_ context.Context) error {
	session, err := c.detach()
	if err != nil {
		return err
	}

	var stopErr error
	if session.recorder != nil {
		stopErr = session.recorder.Stop()
	}
	if err := c.fs.Remove(session.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(stopErr, fmt.Errorf("remove partial artifact: %w", err))
	}
	return stopErr
}

func (c *Capture) detach() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timer.Disarm()
	if c.active == nil {
		return nil, ErrNoActiveSession
	}
	session := c.active
	c.active = nil
	return session, nil
}

func (c *Capture) removeQuietly(path string) {
	_ = c.fs.Remove(path)
}
