package consultation

import (
	"fmt"
	"sort"
	"strings"
)

// RenderTranscript renders the full history as "[speaker] text" lines ordered
// by capture time, ties broken by insertion sequence.
func RenderTranscript(chunks []TranscriptChunk) string {
	sorted := make([]TranscriptChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CapturedAt.Equal(sorted[j].CapturedAt) {
			return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	lines := make([]string, len(sorted))
	for i, c := range sorted {
		lines[i] = fmt.Sprintf("[%s] %s", c.Speaker, c.Text)
	}
	return strings.Join(lines, "\n")
}
