// Package output copies created note text to the clipboard.
package output

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/notecap/internal/config"
)

const copyTimeout = 2 * time.Second

// Clipboard pipes note text into the configured clipboard command.
type Clipboard struct {
	enable bool
	argv   []string
	logger *slog.Logger
}

// NewClipboard constructs a clipboard writer from config.
func NewClipboard(cfg config.ClipboardConfig, logger *slog.Logger) *Clipboard {
	return &Clipboard{enable: cfg.Enable, argv: cfg.Command.Argv, logger: logger}
}

// Enabled reports whether Copy does anything.
func (c *Clipboard) Enabled() bool {
	return c != nil && c.enable && len(c.argv) > 0
}

// Copy writes text to the clipboard. Disabled clipboards and empty text are no-ops.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if !c.Enabled() || strings.TrimSpace(text) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()
	if err := runCommandWithInput(ctx, c.argv, text); err != nil {
		if c.logger != nil {
			c.logger.Warn("clipboard copy failed", "error", err.Error())
		}
		return fmt.Errorf("set clipboard: %w", err)
	}
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("wait for %s: %w (%s)", argv[0], err, detail)
		}
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
