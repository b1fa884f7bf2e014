package summarize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jwulff/quill/internal/media"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI transcribes audio with Whisper and summarizes the transcript with a
// chat model.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates the summarizer. Extra request options are passed to the
// client.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Transcribe sends audio to the Whisper transcription endpoint.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = media.DefaultContentType
	}
	name := "recording" + media.Extension(contentType)
	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), name, media.BaseType(contentType)),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (o *OpenAI) Summarize(ctx context.Context, in Input) (Summary, error) {
	in, err := transcribeIfNeeded(ctx, o, in)
	if err != nil {
		return Summary{}, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(in)),
		},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Summary{}, errors.New("openai returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Summary{}, errors.New("openai returned no text")
	}
	return Summary{Text: text, Transcript: in.Transcript}, nil
}
