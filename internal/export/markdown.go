// Package export renders recordings for sharing outside quill.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/recording"
)

// Markdown renders rec as a markdown document. Dates are shown in loc, or UTC
// when loc is nil.
func Markdown(rec recording.Recording, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = recording.DefaultTitle
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Recorded: %s\n", rec.CreatedAt.In(loc).Format("January 2, 2006 15:04"))
	}
	if rec.DurationSeconds != nil && *rec.DurationSeconds > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", media.FormatDuration(*rec.DurationSeconds))
	}
	if rec.AssetURL != nil && *rec.AssetURL != "" {
		fmt.Fprintf(&b, "- Audio: <%s>\n", *rec.AssetURL)
	}
	b.WriteString("\n## Summary\n\n")
	if rec.HasSummary() {
		b.WriteString(strings.TrimSpace(*rec.Summary))
	} else {
		b.WriteString("_No summary yet._")
	}
	b.WriteString("\n")

	if rec.Transcript != nil && strings.TrimSpace(*rec.Transcript) != "" {
		b.WriteString("\n## Transcript\n\n")
		b.WriteString(strings.TrimSpace(*rec.Transcript))
		b.WriteString("\n")
	}
	return b.String()
}
