package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwulff/quill/internal/recording"
)

func TestMarkdownFull(t *testing.T) {
	rec := recording.Recording{
		ID:              "r1",
		Title:           "Standup",
		AssetURL:        recording.StringPtr("https://blobs.test/recordings/u1/r1.webm"),
		DurationSeconds: recording.IntPtr(65),
		Summary:         recording.StringPtr("  Shipped the exporter.  "),
		Transcript:      recording.StringPtr("we shipped it"),
		CreatedAt:       time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC),
	}

	want := "# Standup\n\n" +
		"- Recorded: March 4, 2025 09:30\n" +
		"- Duration: 1:05\n" +
		"- Audio: <https://blobs.test/recordings/u1/r1.webm>\n" +
		"\n## Summary\n\nShipped the exporter.\n" +
		"\n## Transcript\n\nwe shipped it\n"
	assert.Equal(t, want, Markdown(rec, nil))
}

func TestMarkdownWithoutSummary(t *testing.T) {
	out := Markdown(recording.Recording{Title: " "}, time.UTC)

	assert.True(t, strings.HasPrefix(out, "# "+recording.DefaultTitle+"\n"))
	assert.Contains(t, out, "_No summary yet._")
	assert.NotContains(t, out, "Transcript")
	assert.NotContains(t, out, "Recorded:")
	assert.NotContains(t, out, "Duration:")
}

func TestMarkdownUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	rec := recording.Recording{Title: "x", CreatedAt: time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC)}

	assert.Contains(t, Markdown(rec, loc), "March 5, 2025 01:00")
}
