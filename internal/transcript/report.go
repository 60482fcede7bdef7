package transcript

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

const (
	reportRule     = "=================================================="
	unknownSpeaker = "Desconhecido"
)

// ReportOptions controls the report header.
type ReportOptions struct {
	Title  string
	Method string
}

// Render writes the labeled turns with a header per speaker change and a per-speaker
// turn count.
func Render(w io.Writer, turns []Turn, opts ReportOptions) error {
	var b strings.Builder

	title := opts.Title
	if title == "" {
		title = "TRANSCRIÇÃO"
	}
	b.WriteString(title + "\n")
	b.WriteString(reportRule + "\n")
	if opts.Method != "" {
		fmt.Fprintf(&b, "MÉTODO: %s\n", opts.Method)
		b.WriteString(reportRule + "\n")
	}
	b.WriteString("\n")

	current := ""
	for i, turn := range turns {
		speaker := speakerOf(turn)
		if i == 0 || speaker != current {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "=== %s ===\n", speaker)
			current = speaker
		}
		fmt.Fprintf(&b, "[%s-%s] %s\n", clock(turn.Start), clock(turn.End), strings.Join(strings.Fields(turn.Text), " "))
	}

	b.WriteString("\n" + reportRule + "\n")
	b.WriteString("ESTATÍSTICAS:\n")
	for _, stat := range Stats(turns) {
		fmt.Fprintf(&b, "%s: %d falas\n", stat.Speaker, stat.Turns)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// SpeakerStat counts turns per speaker.
type SpeakerStat struct {
	Speaker string
	Turns   int
	Seconds float64
}

// Stats returns per-speaker counts sorted by speaker name.
func Stats(turns []Turn) []SpeakerStat {
	index := map[string]int{}
	var stats []SpeakerStat
	for _, turn := range turns {
		speaker := speakerOf(turn)
		i, ok := index[speaker]
		if !ok {
			i = len(stats)
			index[speaker] = i
			stats = append(stats, SpeakerStat{Speaker: speaker})
		}
		stats[i].Turns++
		stats[i].Seconds += math.Max(0, turn.Duration())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Speaker < stats[j].Speaker })
	return stats
}

func speakerOf(turn Turn) string {
	if strings.TrimSpace(turn.Speaker) == "" {
		return unknownSpeaker
	}
	return turn.Speaker
}

// clock formats seconds as mm:ss, truncating fractions.
func clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
