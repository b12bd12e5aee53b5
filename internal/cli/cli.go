// Package cli parses notecap's argv into a command and its operands.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandVoice   Command = "voice"
	CommandPhoto   Command = "photo"
	CommandText    Command = "text"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandList    Command = "list"
	CommandDelete  Command = "delete"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandServe   Command = "serve"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// arity is the operand rule per command: 0 none, 1 exactly one, -1 one or more.
var validCommands = map[Command]int{
	CommandVoice:   0,
	CommandPhoto:   0,
	CommandText:    -1,
	CommandStop:    0,
	CommandCancel:  0,
	CommandStatus:  0,
	CommandList:    0,
	CommandDelete:  1,
	CommandDevices: 0,
	CommandDoctor:  0,
	CommandServe:   0,
	CommandVersion: 0,
	CommandHelp:    0,
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ImagePath  string
	Args       []string
	ShowHelp   bool
}

// Text joins the operands of the text command.
func (p Parsed) Text() string {
	return strings.Join(p.Args, " ")
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			arity, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			rest := args[i+1:]
			if cmd == CommandPhoto {
				image, err := parsePhotoFlags(rest)
				if err != nil {
					return Parsed{}, err
				}
				parsed.ImagePath = image
				return parsed, nil
			}
			if err := checkArity(cmd, arity, rest); err != nil {
				return Parsed{}, err
			}
			if len(rest) > 0 {
				parsed.Args = append([]string(nil), rest...)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func checkArity(cmd Command, arity int, rest []string) error {
	switch {
	case arity == 0 && len(rest) > 0:
		return fmt.Errorf("unexpected arguments after command %q", cmd)
	case arity == 1 && len(rest) != 1:
		return fmt.Errorf("command %q requires exactly one argument", cmd)
	case arity < 0 && len(rest) == 0:
		return fmt.Errorf("command %q requires at least one argument", cmd)
	}
	return nil
}

func parsePhotoFlags(rest []string) (string, error) {
	switch {
	case len(rest) == 0:
		return "", nil
	case rest[0] == "--image" && len(rest) == 2 && strings.TrimSpace(rest[1]) != "":
		return rest[1], nil
	case rest[0] == "--image" && len(rest) < 2:
		return "", errors.New("--image requires a path")
	default:
		return "", fmt.Errorf("unexpected arguments after command %q", CommandPhoto)
	}
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  voice           Start recording, or stop and save when already recording
  photo [--image PATH]
                  Capture a photo (or read PATH) and save its text
  text WORDS...   Save typed text as a note
  stop            Stop the active recording and save it
  cancel          Cancel the active recording and discard it
  status          Print current state
  list            List notes for this device
  delete ID       Delete one note
  devices         List available input devices
  doctor          Run configuration and environment checks
  serve           Run the local notes API
  version         Print version information
  help            Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/notecap/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
