package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/rbright/notecap/internal/audio"
	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/cli"
	"github.com/rbright/notecap/internal/config"
	"github.com/rbright/notecap/internal/doctor"
	"github.com/rbright/notecap/internal/indicator"
	"github.com/rbright/notecap/internal/ipc"
	"github.com/rbright/notecap/internal/logging"
	"github.com/rbright/notecap/internal/notes"
	"github.com/rbright/notecap/internal/noteserver"
	"github.com/rbright/notecap/internal/output"
	"github.com/rbright/notecap/internal/pipeline"
	"github.com/rbright/notecap/internal/telemetry"
	"github.com/rbright/notecap/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("notecap"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("notecap"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg := cfgLoaded.Config

	logRuntime, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	telemetryOpts := telemetry.Options{
		Version: version.Version,
		Metrics: parsed.Command == cli.CommandServe,
		Logger:  logger,
	}
	if cfg.Debug.Trace {
		telemetryOpts.TraceDir = filepath.Join(config.StateDir(), "debug")
	}
	tel, err := telemetry.Setup(ctx, telemetryOpts)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup telemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	}()

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"trace", tel.TracePath,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.Probes{Device: deviceResolver(cfg).Resolve})
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandVoice:
		return r.commandCapture(ctx, cfg, logger, capture.ModeVoice, nil)
	case cli.CommandPhoto:
		return r.commandCapture(ctx, cfg, logger, capture.ModePhoto, photoSource(cfg, parsed.ImagePath))
	case cli.CommandText:
		return r.commandText(ctx, cfg, logger, parsed.Text())
	case cli.CommandList:
		return r.commandList(ctx, cfg)
	case cli.CommandDelete:
		return r.commandDelete(ctx, cfg, parsed.Args[0])
	case cli.CommandServe:
		return r.commandServe(ctx, cfg, logger, tel.MetricsHandler)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func photoSource(cfg config.Config, imagePath string) capture.PhotoSource {
	if strings.TrimSpace(imagePath) != "" {
		return capture.FilePicker{Fs: afero.NewOsFs(), Path: imagePath}
	}
	if len(cfg.Capture.Photo.Argv) == 0 {
		return nil
	}
	return capture.CommandCamera{Argv: cfg.Capture.Photo.Argv}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, formatStatus(resp))
	return 0
}

// formatStatus renders "state", "state mode", or "state mode m:ss/m:ss".
func formatStatus(resp ipc.Response) string {
	state := resp.State
	if state == "" {
		state = "idle"
	}
	if resp.Mode == "" {
		return state
	}
	line := state + " " + resp.Mode
	if resp.Limit > 0 {
		line += fmt.Sprintf(" %s/%s", indicator.Clock(resp.Elapsed), indicator.Clock(resp.Limit))
	}
	return line
}

func (r Runner) forwardOrFail(ctx context.Context, command ipc.Command) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active notecap capture\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandCapture makes this process the capture owner. A voice request while
// another voice capture is running stops that capture instead.
func (r Runner) commandCapture(ctx context.Context, cfg config.Config, logger *slog.Logger, mode capture.Mode, photo capture.PhotoSource) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if mode == capture.ModeVoice {
		if code, handled := r.stopOwner(ctx, socketPath); handled {
			return code
		}
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) && mode == capture.ModeVoice {
			if code, handled := r.stopOwner(ctx, socketPath); handled {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	client := newHTTPClient()
	store, closeStore, err := openStore(ctx, cfg, client)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	identity, err := deviceResolver(cfg).Resolve()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	controller := newController(controllerDeps{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		store:     store,
		deviceID:  identity.ID,
		photo:     photo,
		indicator: newIndicator(cfg, r, logger),
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller, logger)
	}()

	result := controller.Run(ctx, mode)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	return r.report(ctx, cfg, logger, result)
}

// stopOwner forwards stop to a running owner; handled is false when no owner answers.
func (r Runner) stopOwner(ctx context.Context, socketPath string) (int, bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStop)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0, true
}

func (r Runner) commandText(ctx context.Context, cfg config.Config, logger *slog.Logger, text string) int {
	client := newHTTPClient()
	store, closeStore, err := openStore(ctx, cfg, client)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	identity, err := deviceResolver(cfg).Resolve()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	controller := newController(controllerDeps{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		store:     store,
		deviceID:  identity.ID,
		indicator: newIndicator(cfg, r, logger),
	})
	return r.report(ctx, cfg, logger, controller.SubmitText(ctx, text))
}

// report prints a finished run and maps it to an exit code. Nothing
// detected is an expected outcome and exits zero.
func (r Runner) report(ctx context.Context, cfg config.Config, logger *slog.Logger, result pipeline.Result) int {
	if result.Cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if result.Err != nil {
		if pipeline.Informational(result.Err) {
			fmt.Fprintln(r.Stdout, "nothing detected")
			return 0
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}

	text := strings.TrimSpace(result.Note.Text)
	if text == "" {
		text = strings.TrimSpace(result.Text)
	}
	fmt.Fprintln(r.Stdout, text)

	clipboard := output.NewClipboard(cfg.Clipboard, logger)
	if clipboard.Enabled() {
		if err := clipboard.Copy(ctx, text); err != nil {
			fmt.Fprintf(r.Stderr, "warning: %v\n", err)
		}
	}
	return 0
}

func (r Runner) commandList(ctx context.Context, cfg config.Config) int {
	store, closeStore, err := openStore(ctx, cfg, newHTTPClient())
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	identity, err := deviceResolver(cfg).Resolve()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	items, err := store.List(ctx, identity.ID)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(items) == 0 {
		fmt.Fprintln(r.Stdout, "no notes")
		return 0
	}
	for _, note := range items {
		fmt.Fprintf(r.Stdout, "%s | %s | %s | %s\n", note.ID, note.Source, humanize.Time(note.CreatedAt), note.Text)
	}
	return 0
}

func (r Runner) commandDelete(ctx context.Context, cfg config.Config, id string) int {
	store, closeStore, err := openStore(ctx, cfg, newHTTPClient())
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	if err := store.Delete(ctx, id); err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			fmt.Fprintf(r.Stderr, "error: note %q not found\n", id)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "deleted %s\n", id)
	return 0
}

// commandServe exposes a SQLite note store over the notes API until ctx ends.
func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics http.Handler) int {
	store, err := notes.OpenSQLite(ctx, sqlitePath(cfg))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	router, err := noteserver.NewRouter(noteserver.Options{
		Store:          store,
		Token:          cfg.Credentials.NotesToken,
		TrustedProxies: cfg.Server.TrustedProxies,
		Metrics:        metrics,
		Logger:         logger,
		Ping:           store.Ping,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(r.Stdout, "serving notes API on http://%s/api\n", cfg.Server.Addr)
	if err := noteserver.Serve(ctx, cfg.Server.Addr, router, logger); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, command ipc.Command) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}
	if ipc.NoOwner(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
