// Package indicator renders pipeline progress on the terminal or as desktop
// notifications, and plays audio cues.
package indicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/config"
	"github.com/rbright/notecap/internal/fsm"
	"github.com/rbright/notecap/internal/notes"
)

const (
	backendTerminal = "terminal"
	backendDesktop  = "desktop"
)

// Notifier is the concrete indicator used by pipeline runs.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	out      io.Writer
	messages messages
	cue      func(context.Context, cueKind) error

	mu                    sync.Mutex
	inline                bool
	desktopNotificationID uint32
	soundMu               sync.Mutex
}

// New creates a notifier; terminal output goes to out.
func New(cfg config.IndicatorConfig, out io.Writer, logger *slog.Logger) *Notifier {
	if out == nil {
		out = io.Discard
	}
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		messages: indicatorMessages(resolveLocale(cfg.Language)),
		cue:      emitCue,
	}
}

// ShowCapturing signals capture start and emits the start cue.
func (n *Notifier) ShowCapturing(ctx context.Context, mode capture.Mode) {
	n.playCue(ctx, cueStart)
	text := n.messages.recording
	if mode == capture.ModePhoto {
		text = n.messages.photo
	}
	n.show(ctx, text, LevelNormal, 300000)
}

// ShowElapsed updates the remaining-time countdown.
func (n *Notifier) ShowElapsed(ctx context.Context, elapsed, limit int) {
	if !n.cfg.Enable {
		return
	}
	level := Urgency(elapsed, limit)
	text := fmt.Sprintf(n.messages.remaining, Clock(limit-elapsed))

	if n.desktop() {
		n.run(ctx, func(ctx context.Context) error {
			return n.notifyDesktop(ctx, text, 300000, urgencyByte(level))
		})
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	marker := " "
	switch level {
	case LevelWarning:
		marker = "!"
	case LevelCritical:
		marker = "‼"
	}
	_, _ = fmt.Fprintf(n.out, "\r%s %s  ", marker, text)
	n.inline = true
}

// ShowProcessing signals a post-capture step.
func (n *Notifier) ShowProcessing(ctx context.Context, state fsm.State) {
	var text string
	switch state {
	case fsm.StatePreprocessing:
		text = n.messages.preparing
	case fsm.StateRecognizing:
		text = n.messages.recognizing
	case fsm.StateSubmitting:
		text = n.messages.saving
	default:
		return
	}
	n.show(ctx, text, LevelNormal, 300000)
}

// ShowSaved echoes the stored note text.
func (n *Notifier) ShowSaved(ctx context.Context, note notes.Note) {
	n.show(ctx, fmt.Sprintf(n.messages.saved, note.Text), LevelNormal, 3000)
}

// ShowNothing reports the informational empty outcome.
func (n *Notifier) ShowNothing(ctx context.Context) {
	n.show(ctx, n.messages.nothing, LevelNormal, 2000)
}

// ShowError displays the localized message for a failure reason.
func (n *Notifier) ShowError(ctx context.Context, reason string) {
	n.show(ctx, n.messages.reason(reason), LevelCritical, 3000)
}

// CueStop emits the stop cue.
func (n *Notifier) CueStop(ctx context.Context) {
	n.playCue(ctx, cueStop)
}

// CueComplete emits the note-saved cue.
func (n *Notifier) CueComplete(ctx context.Context) {
	n.playCue(ctx, cueComplete)
}

// CueCancel emits the cancel cue and reports the cancellation.
func (n *Notifier) CueCancel(ctx context.Context) {
	n.playCue(ctx, cueCancel)
	n.show(ctx, n.messages.cancelled, LevelNormal, 1500)
}

// Hide ends the terminal progress line or dismisses the desktop notification.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	if n.desktop() {
		n.run(ctx, n.dismissDesktop)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.breakLine()
}

func (n *Notifier) show(ctx context.Context, text string, level Level, timeoutMS int) {
	if !n.cfg.Enable {
		return
	}
	if n.desktop() {
		n.run(ctx, func(ctx context.Context) error {
			return n.notifyDesktop(ctx, text, timeoutMS, urgencyByte(level))
		})
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.breakLine()
	_, _ = fmt.Fprintln(n.out, text)
}

// breakLine must be called with n.mu held.
func (n *Notifier) breakLine() {
	if n.inline {
		_, _ = fmt.Fprintln(n.out)
		n.inline = false
	}
}

func (n *Notifier) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), backendDesktop)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, text string, timeoutMS int, urgency int) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "notecap"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS, urgency)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(ctx context.Context, kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := n.cue(ctx, kind); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}

func urgencyByte(level Level) int {
	if level == LevelCritical {
		return 2
	}
	return 1
}
