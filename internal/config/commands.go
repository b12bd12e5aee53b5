package config

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// OutputPlaceholder is replaced with the artifact path in photo commands.
const OutputPlaceholder = "{output}"

func parseCommand(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false

	argv, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	return argv, nil
}

func mustParseCommand(raw string) []string {
	argv, err := parseCommand(raw)
	if err != nil {
		panic(err)
	}
	return argv
}

// ExpandOutput returns a copy of argv with every OutputPlaceholder replaced by path.
// When no argument carries the placeholder, path is appended as the final argument.
func ExpandOutput(argv []string, path string) []string {
	out := make([]string, 0, len(argv)+1)
	replaced := false
	for _, arg := range argv {
		if strings.Contains(arg, OutputPlaceholder) {
			replaced = true
			arg = strings.ReplaceAll(arg, OutputPlaceholder, path)
		}
		out = append(out, arg)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}
