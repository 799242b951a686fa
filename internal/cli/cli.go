// Package cli parses voicebridge command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandPress   Command = "press"
	CommandRelease Command = "release"
	CommandToggle  Command = "toggle"
	CommandClear   Command = "clear"
	CommandSummary Command = "summary"
	CommandStatus  Command = "status"
	CommandCopy    Command = "copy"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandPress:   {},
	CommandRelease: {},
	CommandToggle:  {},
	CommandClear:   {},
	CommandSummary: {},
	CommandStatus:  {},
	CommandCopy:    {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// Forwarded reports whether the command is sent to the running owner over IPC.
func (c Command) Forwarded() bool {
	switch c {
	case CommandPress, CommandRelease, CommandToggle, CommandClear, CommandSummary, CommandStatus, CommandCopy:
		return true
	default:
		return false
	}
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Origin     string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-h" || arg == "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case arg == "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case arg == "--config" || arg == "--origin":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--config" {
				parsed.ConfigPath = args[i]
			} else {
				parsed.Origin = strings.TrimSpace(args[i])
			}
		case strings.HasPrefix(arg, "--config="):
			parsed.ConfigPath = strings.TrimPrefix(arg, "--config=")
			if parsed.ConfigPath == "" {
				return Parsed{}, errors.New("--config requires a value")
			}
		case strings.HasPrefix(arg, "--origin="):
			parsed.Origin = strings.TrimSpace(strings.TrimPrefix(arg, "--origin="))
			if parsed.Origin == "" {
				return Parsed{}, errors.New("--origin requires a value")
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--origin URL] <command>

Commands:
  run       Connect to the voice bridge and run the push-to-talk session
  press     Start talking (forwarded to the running session)
  release   Stop talking (forwarded to the running session)
  toggle    Press when idle, release when talking
  clear     Ask the assistant to clear conversation context
  summary   Ask the assistant for a session summary
  copy      Copy the last assistant reply to the clipboard
  status    Print connection state and whether recording is active
  devices   List available input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Interactive keys while running (type then Enter):
  t  toggle talk    c  clear context    s  summary    y  copy reply    q  quit

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/voicebridge/config.jsonc)
  --origin URL    Voice bridge origin, e.g. http://localhost:8000 (overrides config and $VOICEBRIDGE_ORIGIN)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
