package summarize

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWaitsForDelay(t *testing.T) {
	f := NewFixed(30 * time.Millisecond)
	start := time.Now()
	s, err := f.Summarize(context.Background(), Input{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, MockText, s.Text)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestFixedHonorsContext(t *testing.T) {
	f := NewFixed(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Summarize(ctx, Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUserPrompt(t *testing.T) {
	p := userPrompt(Input{Title: "Standup", Transcript: "we shipped"})
	assert.Contains(t, p, "Title: Standup")
	assert.Contains(t, p, "we shipped")

	p = userPrompt(Input{Title: "Standup"})
	assert.Contains(t, p, "No transcript")
}

func TestOpenAITranscribesThenSummarizes(t *testing.T) {
	var chatBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
			io.WriteString(w, `{"text":" we shipped the release "}`)
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			b, _ := io.ReadAll(r.Body)
			chatBody = string(b)
			io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Release shipped."}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOpenAI("test-key", "", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	s, err := o.Summarize(context.Background(), Input{
		Title:       "Standup",
		Audio:       []byte("audio"),
		ContentType: "audio/webm;codecs=opus",
	})
	require.NoError(t, err)
	assert.Equal(t, "Release shipped.", s.Text)
	assert.Equal(t, "we shipped the release", s.Transcript)
	assert.Contains(t, chatBody, "we shipped the release")
}

func TestAnthropicSummarizesTranscript(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"A short summary."}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	a := NewAnthropic("test-key", "claude-test",
		anthropicoption.WithBaseURL(srv.URL+"/"), anthropicoption.WithMaxRetries(0))
	s, err := a.Summarize(context.Background(), Input{Title: "Standup", Transcript: "we shipped"})
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", s.Text)
	assert.Equal(t, "we shipped", s.Transcript)
	assert.Equal(t, "claude-test", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

type stubTranscriber struct{ err error }

func (s stubTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	return "stub transcript", s.err
}

func TestTranscribeIfNeeded(t *testing.T) {
	in, err := transcribeIfNeeded(context.Background(), stubTranscriber{}, Input{Audio: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, "stub transcript", in.Transcript)

	in, err = transcribeIfNeeded(context.Background(), stubTranscriber{}, Input{Audio: []byte("a"), Transcript: "kept"})
	require.NoError(t, err)
	assert.Equal(t, "kept", in.Transcript)

	in, err = transcribeIfNeeded(context.Background(), nil, Input{Audio: []byte("a")})
	require.NoError(t, err)
	assert.Empty(t, in.Transcript)

	_, err = transcribeIfNeeded(context.Background(), stubTranscriber{err: io.ErrUnexpectedEOF}, Input{Audio: []byte("a")})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
