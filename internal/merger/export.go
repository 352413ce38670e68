package merger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scribeforge/transcribe-orchestrator/internal/model"
)

// ExportJSON renders a MergedTranscription as indented JSON.
func ExportJSON(mt model.MergedTranscription) ([]byte, error) {
	return json.MarshalIndent(mt, "", "  ")
}

// ExportSubRip renders a MergedTranscription as a .srt subtitle file: one
// cue per segment, with the speaker id in brackets prefixing the text.
func ExportSubRip(mt model.MergedTranscription) string {
	var b strings.Builder
	for i, seg := range mt.Segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(seg.StartSec), formatSRTTimestamp(seg.EndSec))
		fmt.Fprintf(&b, "[%s] %s\n\n", seg.GlobalSpeakerID, seg.Text)
	}
	return b.String()
}

func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3_600_000
	totalMillis %= 3_600_000
	minutes := totalMillis / 60_000
	totalMillis %= 60_000
	secs := totalMillis / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
