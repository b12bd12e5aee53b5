package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rbright/notecap/internal/timer"
)

type fakeVoice struct {
	fs        afero.Fs
	permitErr error
	beginErr  error
	stops     atomic.Int32
}

func (f *fakeVoice) Permit(context.Context) error { return f.permitErr }

func (f *fakeVoice) Begin(_ context.Context, path string) (Recorder, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if err := afero.WriteFile(f.fs, path, []byte("RIFF....WAVE"), 0o600); err != nil {
		return nil, err
	}
	return fakeRecorder{stops: &f.stops}, nil
}

type fakeRecorder struct {
	stops *atomic.Int32
}

func (r fakeRecorder) Stop() error    { r.stops.Add(1); return nil }
func (r fakeRecorder) Device() string { return "fake-mic" }

type fakePhoto struct {
	fs      afero.Fs
	takeErr error
}

func (f *fakePhoto) Permit(context.Context) error { return nil }
func (f *fakePhoto) Name() string                 { return "fake-camera" }

func (f *fakePhoto) Take(_ context.Context, path string) error {
	if f.takeErr != nil {
		return f.takeErr
	}
	return afero.WriteFile(f.fs, path, []byte{0xff, 0xd8, 0xff}, 0o600)
}

func newTestCapture(t *testing.T, interval time.Duration, maxSeconds int) (*Capture, afero.Fs, *fakeVoice) {
	t.Helper()
	fs := afero.NewMemMapFs()
	voice := &fakeVoice{fs: fs}
	c := New(Options{
		Fs:         fs,
		TempDir:    "/tmp/notecap",
		MaxSeconds: maxSeconds,
		Voice:      voice,
		Photo:      &fakePhoto{fs: fs},
		Timer:      timer.New(interval),
	})
	return c, fs, voice
}

func TestStartRequiresPermission(t *testing.T) {
	c, _, _ := newTestCapture(t, time.Hour, 60)

	err := c.Start(context.Background(), ModeVoice, Hooks{})
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, active := c.Active()
	require.False(t, active)
}

func TestRequestPermissionDeniedWhenSourceFails(t *testing.T) {
	c, _, voice := newTestCapture(t, time.Hour, 60)
	voice.permitErr = errors.New("muted")

	require.False(t, c.RequestPermission(context.Background(), KindMicrophone))
	require.ErrorIs(t, c.PermissionError(context.Background(), KindMicrophone), ErrPermissionDenied)
	require.ErrorIs(t, c.Start(context.Background(), ModeVoice, Hooks{}), ErrPermissionDenied)
}

func TestRequestPermissionWithoutSource(t *testing.T) {
	c := New(Options{Fs: afero.NewMemMapFs()})
	require.False(t, c.RequestPermission(context.Background(), KindCamera))
	require.False(t, c.RequestPermission(context.Background(), Kind("radar")))
}

func TestSecondStartRejectedAndFirstSessionUntouched(t *testing.T) {
	c, fs, _ := newTestCapture(t, time.Hour, 60)
	require.True(t, c.RequestPermission(context.Background(), KindMicrophone))
	require.True(t, c.RequestPermission(context.Background(), KindCamera))

	require.NoError(t, c.Start(context.Background(), ModeVoice, Hooks{}))
	first, ok := c.Active()
	require.True(t, ok)

	for _, mode := range []Mode{ModeVoice, ModePhoto} {
		err := c.Start(context.Background(), mode, Hooks{})
		require.ErrorIs(t, err, ErrSessionAlreadyActive)
	}

	after, ok := c.Active()
	require.True(t, ok)
	require.Equal(t, first, after)

	exists, err := afero.Exists(fs, first.ArtifactPath)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStopWithoutStart(t *testing.T) {
	c, _, _ := newTestCapture(t, time.Hour, 60)
	_, err := c.Stop(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)
	require.ErrorIs(t, c.Abort(context.Background()), ErrNoActiveSession)
}

func TestVoiceStopReturnsArtifactAndDisarmsTimer(t *testing.T) {
	c, _, voice := newTestCapture(t, time.Hour, 60)
	require.True(t, c.RequestPermission(context.Background(), KindMicrophone))
	require.NoError(t, c.Start(context.Background(), ModeVoice, Hooks{}))
	require.True(t, c.timer.Armed())

	artifact, err := c.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeVoice, artifact.Mode)
	require.Equal(t, "fake-mic", artifact.Device)
	require.Equal(t, int64(len("RIFF....WAVE")), artifact.Size)
	require.Contains(t, artifact.Path, "/tmp/notecap/notecap-")
	require.Equal(t, int32(1), voice.stops.Load())
	require.False(t, c.timer.Armed())

	_, active := c.Active()
	require.False(t, active)
}

func TestVoiceTimerTicksAndTimesOut(t *testing.T) {
	c, _, _ := newTestCapture(t, 2*time.Millisecond, 3)
	require.True(t, c.RequestPermission(context.Background(), KindMicrophone))

	ticks := make(chan int, 8)
	limits := make(chan int, 8)
	timedOut := make(chan struct{}, 1)
	require.NoError(t, c.Start(context.Background(), ModeVoice, Hooks{
		OnTick: func(elapsed, limit int) {
			limits <- limit
			ticks <- elapsed
		},
		OnTimeout: func() { timedOut <- struct{}{} },
	}))

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not time out")
	}
	session, ok := c.Active()
	require.True(t, ok, "timeout leaves stopping to the caller")
	require.Equal(t, 3, session.Elapsed)
	require.Len(t, ticks, 3)
	require.Equal(t, 3, <-limits)
}

func TestVoiceBeginFailureLeavesNoSession(t *testing.T) {
	c, _, voice := newTestCapture(t, time.Hour, 60)
	voice.beginErr = errors.New("pulse gone")
	require.True(t, c.RequestPermission(context.Background(), KindMicrophone))

	err := c.Start(context.Background(), ModeVoice, Hooks{})
	require.ErrorContains(t, err, "pulse gone")
	require.ErrorIs(t, err, ErrCaptureFailed)
	_, active := c.Active()
	require.False(t, active)
	require.False(t, c.timer.Armed())
}

func TestPhotoStopTakesPicture(t *testing.T) {
	c, fs, _ := newTestCapture(t, time.Hour, 60)
	require.True(t, c.RequestPermission(context.Background(), KindCamera))
	require.NoError(t, c.Start(context.Background(), ModePhoto, Hooks{}))
	require.False(t, c.timer.Armed())

	artifact, err := c.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModePhoto, artifact.Mode)
	require.Equal(t, "fake-camera", artifact.Device)
	require.Equal(t, int64(3), artifact.Size)

	exists, err := afero.Exists(fs, artifact.Path)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestPhotoTakeFailureRemovesPartialArtifact(t *testing.T) {
	fs := afero.NewMemMapFs()
	photo := &fakePhoto{fs: fs, takeErr: errors.New("shutter jammed")}
	c := New(Options{Fs: fs, TempDir: "/tmp", Photo: photo, Timer: timer.New(time.Hour)})
	require.True(t, c.RequestPermission(context.Background(), KindCamera))
	require.NoError(t, c.Start(context.Background(), ModePhoto, Hooks{}))
	session, _ := c.Active()

	_, err := c.Stop(context.Background())
	require.ErrorContains(t, err, "shutter jammed")
	require.ErrorIs(t, err, ErrCaptureFailed)

	exists, err := afero.Exists(fs, session.ArtifactPath)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAbortDeletesPartialRecording(t *testing.T) {
	c, fs, voice := newTestCapture(t, time.Hour, 60)
	require.True(t, c.RequestPermission(context.Background(), KindMicrophone))
	require.NoError(t, c.Start(context.Background(), ModeVoice, Hooks{}))
	session, _ := c.Active()

	require.NoError(t, c.Abort(context.Background()))
	require.Equal(t, int32(1), voice.stops.Load())
	require.False(t, c.timer.Armed())

	exists, err := afero.Exists(fs, session.ArtifactPath)
	require.NoError(t, err)
	require.False(t, exists)

	// a fresh session can start after abort
	require.NoError(t, c.Start(context.Background(), ModeVoice, Hooks{}))
}

func TestModeKind(t *testing.T) {
	require.Equal(t, KindMicrophone, ModeVoice.Kind())
	require.Equal(t, KindCamera, ModePhoto.Kind())
}
