package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRecord     Command = "record"
	CommandPause      Command = "pause"
	CommandResume     Command = "resume"
	CommandStop       Command = "stop"
	CommandClear      Command = "clear"
	CommandStatus     Command = "status"
	CommandSessions   Command = "sessions"
	CommandCombine    Command = "combine"
	CommandEnhance    Command = "enhance"
	CommandTranscribe Command = "transcribe"
	CommandLabel      Command = "label"
	CommandDevices    Command = "devices"
	CommandDoctor     Command = "doctor"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

// arity bounds positional arguments per command. max < 0 means unbounded.
type arity struct {
	min, max int
}

var validCommands = map[Command]arity{
	CommandRecord:     {min: 1, max: -1},
	CommandPause:      {},
	CommandResume:     {min: 0, max: -1},
	CommandStop:       {},
	CommandClear:      {},
	CommandStatus:     {},
	CommandSessions:   {min: 0, max: 1},
	CommandCombine:    {min: 2, max: -1},
	CommandEnhance:    {min: 1, max: 1},
	CommandTranscribe: {min: 1, max: 1},
	CommandLabel:      {min: 1, max: 2},
	CommandDevices:    {},
	CommandDoctor:     {},
	CommandVersion:    {},
	CommandHelp:       {},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
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
			bounds, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			for _, extra := range rest {
				if extra == "--config" {
					return Parsed{}, fmt.Errorf("unexpected arguments after command %q: flags must precede the command", arg)
				}
			}
			if len(rest) < bounds.min {
				return Parsed{}, fmt.Errorf("command %q requires at least %d argument(s)", arg, bounds.min)
			}
			if bounds.max >= 0 && len(rest) > bounds.max {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if len(rest) > 0 {
				parsed.Args = append([]string(nil), rest...)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

// Patient joins positional words into one patient name.
func (p Parsed) Patient() string {
	return strings.TrimSpace(strings.Join(p.Args, " "))
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Session commands:
  record <patient>             Start recording a session for patient
  pause                        Pause and save the current segment
  resume [patient]             Resume recording, optionally renaming the patient
  stop                         Stop, combine segments, and enhance the recording
  clear                        Discard the active session and return to idle
  status                       Print current state

Offline commands:
  sessions [N]                 List the N most recent catalogued sessions
  combine <patient> <part>...  Combine segment files into one recording
  enhance <file.wav>           Write the enhanced _normalizado copy of a recording
  transcribe <file.wav>        Transcribe, label speakers, and write a report
  label <turns.json> [audio]   Label speakers of transcribed turns and print a report

Other commands:
  devices                      List available input devices
  doctor                       Run configuration and environment checks
  version                      Print version information
  help                         Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/escuta/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
