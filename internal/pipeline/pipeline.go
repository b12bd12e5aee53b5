// Package pipeline coordinates one capture run: permission, capture, preprocessing,
// recognition, and note creation, with the state table in internal/fsm.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/fsm"
	"github.com/rbright/notecap/internal/ipc"
	"github.com/rbright/notecap/internal/notes"
	"github.com/rbright/notecap/internal/recognize"
)

const instrumentationName = "github.com/rbright/notecap/pipeline"

// DefaultPhotoTimeout bounds how long a photo source may take to produce a file.
const DefaultPhotoTimeout = 30 * time.Second

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

// Capturer is the pipeline-facing subset of capture.Capture.
type Capturer interface {
	RequestPermission(context.Context, capture.Kind) bool
	PermissionError(context.Context, capture.Kind) error
	Start(context.Context, capture.Mode, capture.Hooks) error
	Stop(context.Context) (capture.Artifact, error)
	Abort(context.Context) error
	Active() (capture.Session, bool)
	MaxSeconds() int
}

// Preprocessor turns an artifact into an upload payload.
type Preprocessor interface {
	PrepareAudio(ctx context.Context, path string) ([]byte, error)
	PrepareImage(ctx context.Context, path string, maxWidth int) ([]byte, error)
}

// Indicator is the pipeline-facing subset of indicator behavior.
type Indicator interface {
	ShowCapturing(context.Context, capture.Mode)
	ShowElapsed(ctx context.Context, elapsed, limit int)
	ShowProcessing(context.Context, fsm.State)
	ShowSaved(context.Context, notes.Note)
	ShowNothing(context.Context)
	ShowError(ctx context.Context, reason string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowCapturing(context.Context, capture.Mode) {}
func (noopIndicator) ShowElapsed(context.Context, int, int)      {}
func (noopIndicator) ShowProcessing(context.Context, fsm.State)  {}
func (noopIndicator) ShowSaved(context.Context, notes.Note)      {}
func (noopIndicator) ShowNothing(context.Context)                {}
func (noopIndicator) ShowError(context.Context, string)          {}
func (noopIndicator) CueStop(context.Context)                    {}
func (noopIndicator) CueComplete(context.Context)                {}
func (noopIndicator) CueCancel(context.Context)                  {}
func (noopIndicator) Hide(context.Context)                       {}

// Result is the complete output of one Run or SubmitText call.
type Result struct {
	RunID            string
	Source           notes.Source
	State            fsm.State
	Reason           Reason
	Err              error
	Text             string
	Note             notes.Note
	Cancelled        bool
	Rejected         bool
	TimedOut         bool
	Device           string
	ArtifactPath     string
	ArtifactBytes    int64
	Elapsed          int
	RecognizeLatency time.Duration
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Options wires a Controller. Store is required; a nil Speech or OCR client
// makes the matching mode unavailable.
type Options struct {
	Logger       *slog.Logger
	Fs           afero.Fs
	Capture      Capturer
	Preprocessor Preprocessor
	Speech       recognize.Client
	OCR          recognize.Client
	Store        notes.Store
	DeviceID     string
	MaxWidth     int
	PhotoTimeout time.Duration
	Indicator    Indicator
}

// Controller is a single-flight capture pipeline.
type Controller struct {
	logger    *slog.Logger
	fs        afero.Fs
	capture   Capturer
	prep      Preprocessor
	speech    recognize.Client
	ocr       recognize.Client
	store     notes.Store
	deviceID  string
	maxWidth  int
	indicator Indicator
	tracer    trace.Tracer
	metrics   instruments

	photoTimeout time.Duration

	mu    sync.RWMutex
	state fsm.State
	mode  capture.Mode

	timedOut atomic.Bool
	actions  chan action
}

// New constructs a controller with safe default fallbacks.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Indicator == nil {
		opts.Indicator = noopIndicator{}
	}
	if opts.PhotoTimeout <= 0 {
		opts.PhotoTimeout = DefaultPhotoTimeout
	}
	return &Controller{
		logger:       opts.Logger,
		fs:           opts.Fs,
		capture:      opts.Capture,
		prep:         opts.Preprocessor,
		speech:       opts.Speech,
		ocr:          opts.OCR,
		store:        opts.Store,
		deviceID:     opts.DeviceID,
		maxWidth:     opts.MaxWidth,
		indicator:    opts.Indicator,
		photoTimeout: opts.PhotoTimeout,
		tracer:       otel.Tracer(instrumentationName),
		metrics:      newInstruments(),
		state:        fsm.StateIdle,
		actions:      make(chan action, 1),
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	if next == fsm.StateIdle {
		c.mode = ""
	}
	return nil
}

// begin claims the controller for one run. It fails without side effects
// when another run is in flight.
func (c *Controller) begin(event fsm.Event, mode capture.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return fmt.Errorf("%w: pipeline is %s", capture.ErrSessionAlreadyActive, c.state)
	}
	c.state = next
	c.mode = mode
	c.timedOut.Store(false)
	select {
	case <-c.actions:
	default:
	}
	return nil
}

// Run executes one capture lifecycle from start to a terminal state.
// Voice waits for stop, cancel, timer expiry, or ctx; photo takes the picture
// as soon as capture starts, and ctx or a cancel request can still abort it.
// Once the artifact exists, ctx cancellation is ignored.
func (c *Controller) Run(ctx context.Context, mode capture.Mode) Result {
	result := c.newResult(notes.Source(mode))

	v, err := c.variantFor(mode)
	if err != nil {
		return c.reject(ctx, result, err)
	}
	if err := c.begin(fsm.EventStart, mode); err != nil {
		return c.reject(ctx, result, err)
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("notecap.run_id", result.RunID),
		attribute.String("notecap.mode", string(mode)),
	))
	defer span.End()

	if !c.capture.RequestPermission(ctx, mode.Kind()) {
		err := c.capture.PermissionError(ctx, mode.Kind())
		if err == nil {
			err = fmt.Errorf("%w: %s", capture.ErrPermissionDenied, mode.Kind())
		}
		return c.finish(ctx, span, result, err)
	}

	hooks := capture.Hooks{
		OnTick: func(elapsed, limit int) {
			c.indicator.ShowElapsed(ctx, elapsed, limit)
		},
		OnTimeout: func() {
			c.timedOut.Store(true)
			c.enqueue(actionStop)
		},
	}
	if err := c.capture.Start(ctx, mode, hooks); err != nil {
		return c.finish(ctx, span, result, err)
	}
	if session, ok := c.capture.Active(); ok {
		result.ArtifactPath = session.ArtifactPath
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 800*time.Millisecond)
		defer cancel()
		c.indicator.Hide(cleanupCtx)
	}()
	c.indicator.ShowCapturing(ctx, mode)

	if !v.stopsOnStart() {
		select {
		case <-ctx.Done():
			return c.abort(ctx, span, result, fmt.Errorf("%w: %w", errCancelled, ctx.Err()))
		case a := <-c.actions:
			if a == actionCancel {
				return c.abort(ctx, span, result, nil)
			}
		}
	}
	result.TimedOut = c.timedOut.Load()

	artifact, err := c.stopCapture(ctx, v)
	if errors.Is(err, errCancelled) {
		if ctx.Err() == nil {
			err = nil
		}
		return c.abort(ctx, span, result, err)
	}
	if err != nil {
		return c.finish(context.WithoutCancel(ctx), span, result, err)
	}
	return c.process(context.WithoutCancel(ctx), span, v, result, artifact)
}

// stopCapture ends the session. A photo is taken under ctx and PhotoTimeout,
// and a cancel request interrupts it. Voice stops are not interruptible.
func (c *Controller) stopCapture(ctx context.Context, v variant) (capture.Artifact, error) {
	if !v.stopsOnStart() {
		return c.capture.Stop(context.WithoutCancel(ctx))
	}

	takeCtx, cancel := context.WithTimeout(ctx, c.photoTimeout)
	defer cancel()

	var userCancel atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case a := <-c.actions:
			if a == actionCancel {
				userCancel.Store(true)
				cancel()
			}
		case <-done:
		}
	}()

	artifact, err := c.capture.Stop(takeCtx)
	if err == nil {
		return artifact, nil
	}
	if userCancel.Load() {
		return capture.Artifact{}, errCancelled
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return capture.Artifact{}, fmt.Errorf("%w: %w", errCancelled, ctxErr)
	}
	return capture.Artifact{}, err
}

// SubmitText creates a typed note: idle -> submitting -> terminal.
func (c *Controller) SubmitText(ctx context.Context, text string) Result {
	result := c.newResult(notes.SourceText)
	if err := c.begin(fsm.EventCompose, ""); err != nil {
		return c.reject(ctx, result, err)
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("notecap.run_id", result.RunID),
		attribute.String("notecap.mode", string(notes.SourceText)),
	))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return c.finish(ctx, span, result, ErrNoContentDetected)
	}
	result.Text = text
	return c.submit(context.WithoutCancel(ctx), span, result)
}

func (c *Controller) process(ctx context.Context, span trace.Span, v variant, result Result, artifact capture.Artifact) Result {
	result.ArtifactPath = artifact.Path
	result.ArtifactBytes = artifact.Size
	result.Elapsed = artifact.Elapsed
	result.Device = artifact.Device
	c.indicator.CueStop(ctx)

	if err := c.transition(fsm.EventStop); err != nil {
		return c.finish(ctx, span, result, err)
	}
	c.indicator.ShowProcessing(ctx, fsm.StatePreprocessing)

	var payload []byte
	err := c.step(ctx, "pipeline.preprocess", func(ctx context.Context) error {
		var err error
		payload, err = v.preprocess(ctx, artifact.Path)
		return err
	})
	if err != nil {
		return c.finish(ctx, span, result, err)
	}

	if err := c.transition(fsm.EventPrepared); err != nil {
		return c.finish(ctx, span, result, err)
	}
	c.indicator.ShowProcessing(ctx, fsm.StateRecognizing)

	var (
		text  string
		found bool
	)
	started := time.Now()
	err = c.step(ctx, "pipeline.recognize", func(ctx context.Context) error {
		var err error
		text, found, err = v.recognize(ctx, payload)
		return err
	})
	result.RecognizeLatency = time.Since(started)
	if err != nil {
		return c.finish(ctx, span, result, err)
	}

	text = strings.TrimSpace(text)
	if !found || text == "" {
		return c.finish(ctx, span, result, ErrNoContentDetected)
	}
	result.Text = text

	if err := c.transition(fsm.EventRecognized); err != nil {
		return c.finish(ctx, span, result, err)
	}
	return c.submit(ctx, span, result)
}

// submit must be called in the submitting state.
func (c *Controller) submit(ctx context.Context, span trace.Span, result Result) Result {
	c.indicator.ShowProcessing(ctx, fsm.StateSubmitting)

	var note notes.Note
	err := c.step(ctx, "pipeline.submit", func(ctx context.Context) error {
		var err error
		note, err = c.store.Create(ctx, notes.CreateRequest{
			DeviceID: c.deviceID,
			Text:     result.Text,
			Source:   result.Source,
		})
		return err
	})
	if err != nil {
		return c.finish(ctx, span, result, fmt.Errorf("%w: %w", ErrPersistFailed, err))
	}
	result.Note = note

	if err := c.transition(fsm.EventSubmitted); err != nil {
		return c.finish(ctx, span, result, err)
	}
	c.indicator.CueComplete(ctx)
	c.indicator.ShowSaved(ctx, note)
	return c.finish(ctx, span, result, nil)
}

// finish is the terminal edge: the artifact is released, the run lands in
// succeeded or failed, and the controller resets to idle.
func (c *Controller) finish(ctx context.Context, span trace.Span, result Result, err error) Result {
	if result.ArtifactPath != "" {
		c.release(result.ArtifactPath)
	}

	if err != nil {
		_ = c.transition(fsm.EventFail)
		result.State = fsm.StateFailed
		result.Err = err
		result.Reason = KindOf(err)
		if Informational(err) {
			c.indicator.ShowNothing(ctx)
		} else {
			c.indicator.ShowError(ctx, string(result.Reason))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		result.State = c.State()
	}
	_ = c.transition(fsm.EventReset)

	result.FinishedAt = time.Now()
	c.record(ctx, result)
	return result
}

// abort ends a capturing run without processing. cause is nil for a user cancel.
func (c *Controller) abort(ctx context.Context, span trace.Span, result Result, cause error) Result {
	if err := c.capture.Abort(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, capture.ErrNoActiveSession) {
		c.logger.Warn("abort capture failed", "run_id", result.RunID, "error", err.Error())
	}
	if result.ArtifactPath != "" {
		c.release(result.ArtifactPath)
	}
	c.indicator.CueCancel(ctx)
	_ = c.transition(fsm.EventCancel)

	result.State = c.State()
	result.Cancelled = true
	result.Reason = ReasonCancelled
	result.Err = cause
	span.SetAttributes(attribute.Bool("notecap.cancelled", true))
	result.FinishedAt = time.Now()
	c.record(ctx, result)
	return result
}

// reject reports a run that never started. The active run, if any, is untouched.
func (c *Controller) reject(ctx context.Context, result Result, err error) Result {
	result.State = c.State()
	result.Rejected = true
	result.Err = err
	result.Reason = KindOf(err)
	result.FinishedAt = time.Now()
	c.record(ctx, result)
	return result
}

func (c *Controller) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// release deletes the artifact. Failures are logged only.
func (c *Controller) release(path string) {
	if err := c.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove artifact failed", "path", path, "error", err.Error())
	}
}

func (c *Controller) newResult(source notes.Source) Result {
	return Result{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: time.Now(),
	}
}

// Handle serves IPC commands for the active owner run.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status()
	case ipc.CommandStop:
		return c.RequestStop()
	case ipc.CommandCancel:
		return c.RequestCancel()
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) status() ipc.Response {
	c.mu.RLock()
	resp := ipc.Response{OK: true, State: string(c.state), Mode: string(c.mode), Message: "status"}
	c.mu.RUnlock()

	if c.capture != nil {
		if session, ok := c.capture.Active(); ok {
			resp.Elapsed = session.Elapsed
			if session.Mode == capture.ModeVoice {
				resp.Limit = c.capture.MaxSeconds()
			}
		}
	}
	return resp
}

// RequestStop enqueues the same stop the timer uses when state permits it.
func (c *Controller) RequestStop() ipc.Response {
	state := c.State()
	if processing(state) {
		return ipc.Response{OK: false, State: string(state), Error: "already processing"}
	}
	if state != fsm.StateCapturing {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}

	if c.enqueue(actionStop) {
		return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
	}
	return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
}

// RequestCancel enqueues a cancel while capturing.
func (c *Controller) RequestCancel() ipc.Response {
	state := c.State()
	if processing(state) {
		return ipc.Response{OK: false, State: string(state), Error: "cannot cancel while processing"}
	}
	if state != fsm.StateCapturing {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot cancel from state %s", state)}
	}

	if c.enqueue(actionCancel) {
		return ipc.Response{OK: true, State: string(state), Message: "cancel requested"}
	}
	return ipc.Response{OK: true, State: string(state), Message: "cancel already requested"}
}

func (c *Controller) enqueue(a action) bool {
	select {
	case c.actions <- a:
		return true
	default:
		return false
	}
}

func processing(state fsm.State) bool {
	switch state {
	case fsm.StatePreprocessing, fsm.StateRecognizing, fsm.StateSubmitting:
		return true
	default:
		return false
	}
}
