package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/fsm"
	"github.com/rbright/notecap/internal/ipc"
	"github.com/rbright/notecap/internal/media"
	"github.com/rbright/notecap/internal/notes"
	"github.com/rbright/notecap/internal/recognize"
	"github.com/rbright/notecap/internal/timer"
)

type fakeVoice struct {
	fs        afero.Fs
	permitErr error
}

func (f *fakeVoice) Permit(context.Context) error { return f.permitErr }

func (f *fakeVoice) Begin(_ context.Context, path string) (capture.Recorder, error) {
	if err := afero.WriteFile(f.fs, path, []byte("RIFF....WAVEfmt "), 0o600); err != nil {
		return nil, err
	}
	return fakeRecorder{}, nil
}

type fakeRecorder struct{}

func (fakeRecorder) Stop() error    { return nil }
func (fakeRecorder) Device() string { return "fake-mic" }

type fakePhoto struct {
	fs afero.Fs
}

func (f *fakePhoto) Permit(context.Context) error { return nil }
func (f *fakePhoto) Name() string                 { return "fake-camera" }

func (f *fakePhoto) Take(_ context.Context, path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 2048, 64))
	for x := 0; x < 2048; x++ {
		img.Set(x, 10, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, path, buf.Bytes(), 0o600)
}

// blockingPhoto never produces a file; Take returns only when ctx ends.
type blockingPhoto struct {
	entered chan struct{}
}

func (b *blockingPhoto) Permit(context.Context) error { return nil }
func (b *blockingPhoto) Name() string                 { return "slow-camera" }

func (b *blockingPhoto) Take(ctx context.Context, _ string) error {
	close(b.entered)
	<-ctx.Done()
	return ctx.Err()
}

type fakeStore struct {
	mu       sync.Mutex
	requests []notes.CreateRequest
	err      error
}

func (s *fakeStore) Create(_ context.Context, req notes.CreateRequest) (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return notes.Note{}, s.err
	}
	req, err := notes.Normalize(req)
	if err != nil {
		return notes.Note{}, err
	}
	s.requests = append(s.requests, req)
	return notes.Note{ID: "note-1", DeviceID: req.DeviceID, Text: req.Text, Source: req.Source}, nil
}

func (s *fakeStore) List(context.Context, string) ([]notes.Note, error) { return nil, nil }
func (s *fakeStore) Delete(context.Context, string) error               { return nil }

func (s *fakeStore) created() []notes.CreateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notes.CreateRequest(nil), s.requests...)
}

type harness struct {
	ctrl  *Controller
	fs    afero.Fs
	voice *fakeVoice
	store *fakeStore
	logs  *bytes.Buffer
}

type harnessOptions struct {
	speech     http.HandlerFunc
	ocr        http.HandlerFunc
	interval     time.Duration
	maxSeconds   int
	fs           afero.Fs
	photo        capture.PhotoSource
	photoTimeout time.Duration
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.interval == 0 {
		opts.interval = time.Hour
	}
	if opts.maxSeconds == 0 {
		opts.maxSeconds = 60
	}
	fs := opts.fs
	if fs == nil {
		fs = afero.NewMemMapFs()
	}

	voice := &fakeVoice{fs: fs}
	var photo capture.PhotoSource = &fakePhoto{fs: fs}
	if opts.photo != nil {
		photo = opts.photo
	}
	capt := capture.New(capture.Options{
		Fs:         fs,
		TempDir:    "/tmp/notecap",
		MaxSeconds: opts.maxSeconds,
		Voice:      voice,
		Photo:      photo,
		Timer:      timer.New(opts.interval),
	})

	var speech, ocr recognize.Client
	if opts.speech != nil {
		srv := httptest.NewServer(opts.speech)
		t.Cleanup(srv.Close)
		speech = recognize.NewSpeechClient(recognize.Config{Endpoint: srv.URL, Key: "speech-key", Locale: "en-US"})
	}
	if opts.ocr != nil {
		srv := httptest.NewServer(opts.ocr)
		t.Cleanup(srv.Close)
		ocr = recognize.NewOCRClient(recognize.Config{Endpoint: srv.URL, Key: "ocr-key"})
	}

	logs := &bytes.Buffer{}
	store := &fakeStore{}
	ctrl := New(Options{
		Logger:       slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Fs:           fs,
		Capture:      capt,
		Preprocessor: media.New(fs, nil),
		Speech:       speech,
		OCR:          ocr,
		Store:        store,
		DeviceID:     "device-1",
		PhotoTimeout: opts.photoTimeout,
	})
	return &harness{ctrl: ctrl, fs: fs, voice: voice, store: store, logs: logs}
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (h *harness) runAsync(mode capture.Mode) <-chan Result {
	out := make(chan Result, 1)
	go func() { out <- h.ctrl.Run(context.Background(), mode) }()
	return out
}

func (h *harness) waitState(t *testing.T, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == want }, 2*time.Second, time.Millisecond)
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("run did not finish")
		return Result{}
	}
}

func (h *harness) requireGone(t *testing.T, path string) {
	t.Helper()
	require.NotEmpty(t, path)
	exists, err := afero.Exists(h.fs, path)
	require.NoError(t, err)
	require.False(t, exists, "artifact %s still present", path)
}

func TestVoiceStopSubmitsDisplayText(t *testing.T) {
	h := newHarness(t, harnessOptions{speech: jsonReply(200, `{"RecognitionStatus":"Success","DisplayText":"buy milk"}`)})

	done := h.runAsync(capture.ModeVoice)
	h.waitState(t, fsm.StateCapturing)

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stop requested", resp.Message)

	result := waitResult(t, done)
	require.NoError(t, result.Err)
	require.Equal(t, fsm.StateSucceeded, result.State)
	require.Equal(t, "buy milk", result.Text)
	require.Equal(t, "note-1", result.Note.ID)
	require.Equal(t, "fake-mic", result.Device)
	require.Equal(t, []notes.CreateRequest{{DeviceID: "device-1", Text: "buy milk", Source: notes.SourceVoice}}, h.store.created())
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireGone(t, result.ArtifactPath)
	require.Contains(t, h.logs.String(), `"msg":"run complete"`)
}

func TestPhotoWithoutAnnotationsIsNoContent(t *testing.T) {
	h := newHarness(t, harnessOptions{ocr: jsonReply(200, `{"responses":[{}]}`)})

	result := h.ctrl.Run(context.Background(), capture.ModePhoto)
	require.Equal(t, fsm.StateFailed, result.State)
	require.Equal(t, ReasonNoContentDetected, result.Reason)
	require.ErrorIs(t, result.Err, ErrNoContentDetected)
	require.True(t, Informational(result.Err))
	require.Equal(t, "empty", result.Outcome())
	require.Empty(t, h.store.created())
	h.requireGone(t, result.ArtifactPath)
}

func TestPhotoSubmitsDetectedText(t *testing.T) {
	var uploaded atomic.Int64
	h := newHarness(t, harnessOptions{ocr: func(w http.ResponseWriter, r *http.Request) {
		uploaded.Store(r.ContentLength)
		jsonReply(200, `{"responses":[{"textAnnotations":[{"description":"  invoice 42\n"}]}]}`)(w, r)
	}})

	result := h.ctrl.Run(context.Background(), capture.ModePhoto)
	require.NoError(t, result.Err)
	require.Equal(t, fsm.StateSucceeded, result.State)
	require.Equal(t, "fake-camera", result.Device)
	require.Equal(t, []notes.CreateRequest{{DeviceID: "device-1", Text: "invoice 42", Source: notes.SourcePhoto}}, h.store.created())
	require.Greater(t, uploaded.Load(), int64(0))
	h.requireGone(t, result.ArtifactPath)
}

func TestSpeechServerErrorFailsAndReleasesArtifact(t *testing.T) {
	h := newHarness(t, harnessOptions{speech: jsonReply(500, `backend exploded`)})

	done := h.runAsync(capture.ModeVoice)
	h.waitState(t, fsm.StateCapturing)
	require.True(t, h.ctrl.RequestStop().OK)

	result := waitResult(t, done)
	require.Equal(t, fsm.StateFailed, result.State)
	require.Equal(t, ReasonRecognitionFailed, result.Reason)
	require.ErrorIs(t, result.Err, recognize.ErrRecognitionFailed)
	require.Contains(t, result.Err.Error(), "backend exploded")
	require.Empty(t, h.store.created())
	h.requireGone(t, result.ArtifactPath)
	require.Contains(t, h.logs.String(), `"msg":"run failed"`)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestTimerExpiryStopsWithoutUserAction(t *testing.T) {
	h := newHarness(t, harnessOptions{
		speech:     jsonReply(200, `{"RecognitionStatus":"Success","NBest":[{"Display":"call mom"}]}`),
		interval:   2 * time.Millisecond,
		maxSeconds: 3,
	})

	result := waitResult(t, h.runAsync(capture.ModeVoice))
	require.NoError(t, result.Err)
	require.True(t, result.TimedOut)
	require.Equal(t, 3, result.Elapsed)
	require.Equal(t, fsm.StateSucceeded, result.State)
	require.Equal(t, "call mom", result.Text)
}

func TestSecondStartIsRejectedAndFirstRunContinues(t *testing.T) {
	h := newHarness(t, harnessOptions{
		speech: jsonReply(200, `{"RecognitionStatus":"Success","DisplayText":"first"}`),
		ocr:    jsonReply(200, `{"responses":[{}]}`),
	})

	done := h.runAsync(capture.ModeVoice)
	h.waitState(t, fsm.StateCapturing)
	session, ok := h.ctrl.capture.Active()
	require.True(t, ok)

	second := h.ctrl.Run(context.Background(), capture.ModePhoto)
	require.True(t, second.Rejected)
	require.ErrorIs(t, second.Err, capture.ErrSessionAlreadyActive)
	require.Equal(t, ReasonSessionAlreadyActive, second.Reason)
	require.Equal(t, fsm.StateCapturing, second.State)

	text := h.ctrl.SubmitText(context.Background(), "typed")
	require.True(t, text.Rejected)
	require.ErrorIs(t, text.Err, capture.ErrSessionAlreadyActive)

	again, ok := h.ctrl.capture.Active()
	require.True(t, ok)
	require.Equal(t, session.ArtifactPath, again.ArtifactPath)
	require.Equal(t, fsm.StateCapturing, h.ctrl.State())

	require.True(t, h.ctrl.RequestStop().OK)
	result := waitResult(t, done)
	require.Equal(t, fsm.StateSucceeded, result.State)
	require.Equal(t, "first", result.Text)
}

func TestCancelAbortsCaptureAndRemovesPartialFile(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, harnessOptions{speech: func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonReply(200, `{"DisplayText":"nope"}`)(w, r)
	}})

	done := h.runAsync(capture.ModeVoice)
	h.waitState(t, fsm.StateCapturing)
	session, ok := h.ctrl.capture.Active()
	require.True(t, ok)

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandCancel})
	require.True(t, resp.OK)

	result := waitResult(t, done)
	require.True(t, result.Cancelled)
	require.NoError(t, result.Err)
	require.Equal(t, ReasonCancelled, result.Reason)
	require.Equal(t, fsm.StateIdle, result.State)
	require.Equal(t, int32(0), calls.Load())
	h.requireGone(t, session.ArtifactPath)
}

func TestContextCancelWhileCapturingAborts(t *testing.T) {
	h := newHarness(t, harnessOptions{speech: jsonReply(200, `{"DisplayText":"nope"}`)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- h.ctrl.Run(ctx, capture.ModeVoice) }()
	h.waitState(t, fsm.StateCapturing)
	cancel()

	result := waitResult(t, done)
	require.True(t, result.Cancelled)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.Equal(t, ReasonCancelled, KindOf(result.Err))
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireGone(t, result.ArtifactPath)
}

func TestContextCancelWhileTakingPhotoAborts(t *testing.T) {
	var calls atomic.Int32
	photo := &blockingPhoto{entered: make(chan struct{})}
	h := newHarness(t, harnessOptions{photo: photo, ocr: func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonReply(200, `{"responses":[{}]}`)(w, r)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- h.ctrl.Run(ctx, capture.ModePhoto) }()
	<-photo.entered
	cancel()

	result := waitResult(t, done)
	require.True(t, result.Cancelled)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.Equal(t, ReasonCancelled, result.Reason)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Equal(t, int32(0), calls.Load())
	h.requireGone(t, result.ArtifactPath)
	require.NotContains(t, h.logs.String(), "abort capture failed")
}

func TestCancelRequestWhileTakingPhotoAborts(t *testing.T) {
	photo := &blockingPhoto{entered: make(chan struct{})}
	h := newHarness(t, harnessOptions{photo: photo, ocr: jsonReply(200, `{"responses":[{}]}`)})

	done := h.runAsync(capture.ModePhoto)
	<-photo.entered
	resp := h.ctrl.RequestCancel()
	require.True(t, resp.OK)
	require.Equal(t, "cancel requested", resp.Message)

	result := waitResult(t, done)
	require.True(t, result.Cancelled)
	require.NoError(t, result.Err)
	require.Equal(t, fsm.StateIdle, result.State)
	require.Empty(t, h.store.created())
}

func TestPhotoTakeTimeoutIsCaptureFailure(t *testing.T) {
	photo := &blockingPhoto{entered: make(chan struct{})}
	h := newHarness(t, harnessOptions{
		photo:        photo,
		photoTimeout: 20 * time.Millisecond,
		ocr:          jsonReply(200, `{"responses":[{}]}`),
	})

	result := waitResult(t, h.runAsync(capture.ModePhoto))
	require.False(t, result.Cancelled)
	require.Equal(t, fsm.StateFailed, result.State)
	require.Equal(t, ReasonArtifactUnreadable, result.Reason)
	require.ErrorIs(t, result.Err, capture.ErrCaptureFailed)
	require.ErrorIs(t, result.Err, context.DeadlineExceeded)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestSpeechNoMatchIsRecognitionFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{speech: jsonReply(200, `{"RecognitionStatus":"NoMatch"}`)})

	done := h.runAsync(capture.ModeVoice)
	h.waitState(t, fsm.StateCapturing)
	require.True(t, h.ctrl.RequestStop().OK)

	result := waitResult(t, done)
	require.Equal(t, ReasonRecognitionFailed, result.Reason)
	require.False(t, Informational(result.Err))
	require.Contains(t, result.Err.Error(), "NoMatch")
}

func TestPermissionDeniedFailsWithoutArtifact(t *testing.T) {
	h := newHarness(t, harnessOptions{speech: jsonReply(200, `{"DisplayText":"x"}`)})
	h.voice.permitErr = errors.New("source is muted")

	result := h.ctrl.Run(context.Background(), capture.ModeVoice)
	require.Equal(t, fsm.StateFailed, result.State)
	require.Equal(t, ReasonPermissionDenied, result.Reason)
	require.Contains(t, result.Err.Error(), "source is muted")
	require.Empty(t, result.ArtifactPath)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestUnconfiguredModeIsRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	result := h.ctrl.Run(context.Background(), capture.ModeVoice)
	require.True(t, result.Rejected)
	require.Contains(t, result.Err.Error(), "speech recognition is not configured")
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestPersistFailureKeepsRecognizedText(t *testing.T) {
	h := newHarness(t, harnessOptions{ocr: jsonReply(200, `{"responses":[{"textAnnotations":[{"description":"receipt"}]}]}`)})
	h.store.err = errors.New("HTTP 503: unavailable")

	result := h.ctrl.Run(context.Background(), capture.ModePhoto)
	require.Equal(t, fsm.StateFailed, result.State)
	require.Equal(t, ReasonPersistFailed, result.Reason)
	require.ErrorIs(t, result.Err, ErrPersistFailed)
	require.Equal(t, "receipt", result.Text)
	h.requireGone(t, result.ArtifactPath)
}

type removeFailingFs struct {
	afero.Fs
}

func (removeFailingFs) Remove(string) error { return errors.New("device busy") }

func TestArtifactRemovalFailureIsLoggedNotReturned(t *testing.T) {
	h := newHarness(t, harnessOptions{
		ocr: jsonReply(200, `{"responses":[{"textAnnotations":[{"description":"ok"}]}]}`),
		fs:  removeFailingFs{Fs: afero.NewMemMapFs()},
	})

	result := h.ctrl.Run(context.Background(), capture.ModePhoto)
	require.NoError(t, result.Err)
	require.Equal(t, fsm.StateSucceeded, result.State)
	require.Contains(t, h.logs.String(), "remove artifact failed")
	require.Contains(t, h.logs.String(), "device busy")
}

func TestSubmitText(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	result := h.ctrl.SubmitText(context.Background(), "  water plants  ")
	require.NoError(t, result.Err)
	require.Equal(t, fsm.StateSucceeded, result.State)
	require.Equal(t, []notes.CreateRequest{{DeviceID: "device-1", Text: "water plants", Source: notes.SourceText}}, h.store.created())

	blank := h.ctrl.SubmitText(context.Background(), " \n\t ")
	require.Equal(t, fsm.StateFailed, blank.State)
	require.Equal(t, ReasonNoContentDetected, blank.Reason)

	h.store.err = errors.New("offline")
	failed := h.ctrl.SubmitText(context.Background(), "later")
	require.Equal(t, ReasonPersistFailed, failed.Reason)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestHandleOutsideCapture(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	status := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, "idle", status.State)

	stop := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStop})
	require.False(t, stop.OK)
	require.Contains(t, stop.Error, "cannot stop from state idle")

	cancel := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandCancel})
	require.False(t, cancel.OK)

	unknown := h.ctrl.Handle(ctx, ipc.Request{Command: "toggle"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func TestHandleStatusAndDuplicateStopWhileCapturing(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	// No Run drains the queue here, so the first stop stays pending.
	h.ctrl.mu.Lock()
	h.ctrl.state = fsm.StateCapturing
	h.ctrl.mode = capture.ModeVoice
	h.ctrl.mu.Unlock()

	status := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.Equal(t, "capturing", status.State)
	require.Equal(t, "voice", status.Mode)

	require.Equal(t, "stop requested", h.ctrl.RequestStop().Message)
	require.Equal(t, "stop already requested", h.ctrl.RequestStop().Message)

	h.ctrl.mu.Lock()
	h.ctrl.state = fsm.StateRecognizing
	h.ctrl.mu.Unlock()
	resp := h.ctrl.RequestCancel()
	require.False(t, resp.OK)
	require.Equal(t, "cannot cancel while processing", resp.Error)
}

func TestKindOf(t *testing.T) {
	cases := map[Reason]error{
		ReasonNone:                 nil,
		ReasonPermissionDenied:     capture.ErrPermissionDenied,
		ReasonSessionAlreadyActive: capture.ErrSessionAlreadyActive,
		ReasonNoActiveSession:      capture.ErrNoActiveSession,
		ReasonArtifactUnreadable:   media.ErrArtifactUnreadable,
		ReasonEncodingFailed:       media.ErrEncodingFailed,
		ReasonRecognitionFailed:    &recognize.Error{Provider: "speech", StatusCode: 500},
		ReasonNoContentDetected:    ErrNoContentDetected,
		ReasonPersistFailed:        ErrPersistFailed,
		ReasonInternal:             os.ErrClosed,
	}
	for want, err := range cases {
		require.Equal(t, want, KindOf(err), "%v", err)
	}

	failed := fmt.Errorf("%w: take photo: %w", capture.ErrCaptureFailed, errors.New("no camera"))
	require.Equal(t, ReasonArtifactUnreadable, KindOf(failed))
	require.Equal(t, ReasonCancelled, KindOf(fmt.Errorf("%w: %w", errCancelled, failed)))
}
