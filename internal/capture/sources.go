package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/rbright/notecap/internal/audio"
	"github.com/rbright/notecap/internal/config"
)

// PulseVoice records from the Pulse source matching the configured preferences.
type PulseVoice struct {
	Fs       afero.Fs
	Input    string
	Fallback string
	Logger   *slog.Logger

	mu       sync.Mutex
	selected *audio.Device
}

// Permit resolves an available, unmuted input device.
func (p *PulseVoice) Permit(ctx context.Context) error {
	selection, err := audio.SelectDevice(ctx, p.Input, p.Fallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" && p.Logger != nil {
		p.Logger.Warn("audio device fallback", "warning", selection.Warning)
	}

	p.mu.Lock()
	p.selected = &selection.Device
	p.mu.Unlock()
	return nil
}

// Begin starts a WAV recording on the device chosen by Permit.
func (p *PulseVoice) Begin(ctx context.Context, path string) (Recorder, error) {
	p.mu.Lock()
	selected := p.selected
	p.mu.Unlock()
	if selected == nil {
		return nil, fmt.Errorf("%w: microphone not resolved", ErrPermissionDenied)
	}

	rec, err := audio.StartRecording(ctx, p.Fs, *selected, path)
	if err != nil {
		return nil, err
	}
	return pulseRecorder{rec: rec}, nil
}

type pulseRecorder struct {
	rec *audio.Recording
}

func (r pulseRecorder) Stop() error    { return r.rec.Stop() }
func (r pulseRecorder) Device() string { return r.rec.Device().ID }

// CommandCamera takes a still by running an external camera command. The
// command receives the artifact path through the {output} placeholder.
type CommandCamera struct {
	Argv []string
}

// Permit checks that the camera command is installed.
func (c CommandCamera) Permit(context.Context) error {
	if len(c.Argv) == 0 {
		return errors.New("capture.photo.command is not configured")
	}
	if _, err := exec.LookPath(c.Argv[0]); err != nil {
		return fmt.Errorf("camera command %q not found: %w", c.Argv[0], err)
	}
	return nil
}

// Take runs the camera command once.
func (c CommandCamera) Take(ctx context.Context, path string) error {
	argv := config.ExpandOutput(c.Argv, path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// Name identifies the source in logs.
func (c CommandCamera) Name() string {
	if len(c.Argv) == 0 {
		return "camera"
	}
	return filepath.Base(c.Argv[0])
}

// FilePicker uses an existing image file as the photo. The picked file is
// copied into the artifact so cleanup never touches the original.
type FilePicker struct {
	Fs   afero.Fs
	Path string
}

// Permit checks that the picked file exists and is an image.
func (p FilePicker) Permit(context.Context) error {
	f, err := p.Fs.Open(p.Path)
	if err != nil {
		return fmt.Errorf("open image %q: %w", p.Path, err)
	}
	defer func() { _ = f.Close() }()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("read image %q: %w", p.Path, err)
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		return fmt.Errorf("%q is %s, not an image", p.Path, mtype.String())
	}
	return nil
}

// Take copies the picked file to path.
func (p FilePicker) Take(_ context.Context, path string) error {
	src, err := p.Fs.Open(p.Path)
	if err != nil {
		return fmt.Errorf("open image %q: %w", p.Path, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := p.Fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy image: %w", err)
	}
	return dst.Close()
}

// Name identifies the source in logs.
func (p FilePicker) Name() string {
	return "file:" + filepath.Base(p.Path)
}
