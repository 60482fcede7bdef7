package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/escuta.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/escuta.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
	require.Empty(t, parsed.Args)
}

func TestParseRecordJoinsPatientWords(t *testing.T) {
	parsed, err := Parse([]string{"record", "Maria", "da", "Silva"})
	require.NoError(t, err)
	require.Equal(t, CommandRecord, parsed.Command)
	require.Equal(t, []string{"Maria", "da", "Silva"}, parsed.Args)
	require.Equal(t, "Maria da Silva", parsed.Patient())
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
		wantPath string
		wantArgs []string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "version flag",
			args:     []string{"--version"},
			wantCmd:  CommandVersion,
			wantHelp: false,
		},
		{
			name:    "config after command",
			args:    []string{"status", "--config", "/tmp/cfg"},
			wantErr: "unexpected arguments after command",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "requires a path",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unexpected arguments",
		},
		{
			name:    "record without patient",
			args:    []string{"record"},
			wantErr: "at least 1",
		},
		{
			name:    "combine without parts",
			args:    []string{"combine", "ana"},
			wantErr: "at least 2",
		},
		{
			name:    "enhance with two files",
			args:    []string{"enhance", "a.wav", "b.wav"},
			wantErr: "unexpected arguments",
		},
		{
			name:     "resume without patient",
			args:     []string{"resume"},
			wantCmd:  CommandResume,
			wantHelp: false,
		},
		{
			name:     "resume with patient",
			args:     []string{"resume", "joana"},
			wantCmd:  CommandResume,
			wantArgs: []string{"joana"},
		},
		{
			name:     "combine with parts",
			args:     []string{"combine", "ana", "a_part1.wav", "a_part2.wav"},
			wantCmd:  CommandCombine,
			wantArgs: []string{"ana", "a_part1.wav", "a_part2.wav"},
		},
		{
			name:     "label with audio",
			args:     []string{"label", "turns.json", "consulta.wav"},
			wantCmd:  CommandLabel,
			wantArgs: []string{"turns.json", "consulta.wav"},
		},
		{
			name:     "sessions with limit",
			args:     []string{"sessions", "5"},
			wantCmd:  CommandSessions,
			wantArgs: []string{"5"},
		},
		{
			name:     "valid stop with config",
			args:     []string{"--config", "/tmp/cfg", "stop"},
			wantCmd:  CommandStop,
			wantHelp: false,
			wantPath: "/tmp/cfg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
			require.Equal(t, tc.wantArgs, parsed.Args)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("escuta")
	for _, cmd := range []string{"record", "pause", "resume", "stop", "clear", "combine", "enhance", "transcribe", "label", "doctor"} {
		require.Contains(t, text, cmd)
	}
	require.Contains(t, text, "--config PATH")
}
