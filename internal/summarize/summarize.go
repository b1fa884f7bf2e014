// Package summarize turns a saved recording into a text summary.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Input describes the recording to summarize. Audio may be nil when only the
// asset URL is known.
type Input struct {
	RecordingID string
	Title       string
	AssetURL    string
	Audio       []byte
	ContentType string
	Transcript  string
}

// Summary is a summarizer's output. Transcript is empty when the backend does
// not transcribe.
type Summary struct {
	Text       string
	Transcript string
}

// Summarizer produces a summary for a recording.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (Summary, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

const systemPrompt = "You summarize short voice notes. Reply with one concise paragraph " +
	"that captures the main points and any action items. Do not add a heading."

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	if in.Transcript != "" {
		fmt.Fprintf(&b, "\nTranscript:\n%s\n", in.Transcript)
	} else {
		b.WriteString("\nNo transcript is available; summarize from the title alone and say so.\n")
	}
	return b.String()
}

// MockText is the canned summary returned by Fixed.
const MockText = "This voice note discusses the importance of taking breaks during work. " +
	"The speaker emphasizes the 'Pomodoro Technique': working for 25 minutes followed by a 5-minute break. " +
	"They mention that regular breaks improve focus, creativity, and overall productivity. " +
	"Key takeaway: Don't underestimate the power of stepping away from your desk!"

// Fixed returns Text after Delay. It needs no network access.
type Fixed struct {
	Text  string
	Delay time.Duration
}

// NewFixed returns the offline summarizer with the canned text.
func NewFixed(delay time.Duration) *Fixed {
	return &Fixed{Text: MockText, Delay: delay}
}

func (f *Fixed) Summarize(ctx context.Context, in Input) (Summary, error) {
	if f.Delay > 0 {
		t := time.NewTimer(f.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}
	return Summary{Text: f.Text}, nil
}

// transcribeIfNeeded fills in.Transcript from audio when a transcriber is set.
func transcribeIfNeeded(ctx context.Context, t Transcriber, in Input) (Input, error) {
	if t == nil || in.Transcript != "" || len(in.Audio) == 0 {
		return in, nil
	}
	text, err := t.Transcribe(ctx, in.Audio, in.ContentType)
	if err != nil {
		return in, fmt.Errorf("transcribe: %w", err)
	}
	in.Transcript = text
	return in, nil
}
