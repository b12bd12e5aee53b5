// Package ipc carries control commands from short-lived CLI invocations to
// the process that owns the active capture.
package ipc

import "fmt"

// Command is one control verb a capture owner understands.
type Command string

const (
	CommandStatus Command = "status"
	CommandStop   Command = "stop"
	CommandCancel Command = "cancel"
)

// Validate rejects anything outside the three owner commands.
func (c Command) Validate() error {
	switch c {
	case CommandStatus, CommandStop, CommandCancel:
		return nil
	case "":
		return fmt.Errorf("missing command")
	default:
		return fmt.Errorf("unknown command: %s", string(c))
	}
}

// Request is one newline-delimited JSON command.
type Request struct {
	Command Command `json:"command"`
}

// Response reports the owner's pipeline state after handling a Request.
// Elapsed and Limit are whole seconds of the active voice capture.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Elapsed int    `json:"elapsed,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func errorResponse(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}
