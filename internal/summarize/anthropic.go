package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic summarizes with the Anthropic Messages API. When Transcriber is
// set, audio is transcribed first and the transcript is summarized.
type Anthropic struct {
	client      anthropic.Client
	model       string
	Transcriber Transcriber
}

// NewAnthropic creates the summarizer. Extra request options are passed to
// the client.
func NewAnthropic(apiKey, model string, opts ...anthropicoption.RequestOption) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	opts = append([]anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (a *Anthropic) Summarize(ctx context.Context, in Input) (Summary, error) {
	in, err := transcribeIfNeeded(ctx, a.Transcriber, in)
	if err != nil {
		return Summary{}, err
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(in))),
		},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return Summary{}, errors.New("anthropic returned no text")
	}
	return Summary{Text: text, Transcript: in.Transcript}, nil
}
