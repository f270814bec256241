package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bdobrica/luna/internal/luna/journal"
)

const (
	defaultGroqBase     = "https://api.groq.com/openai/v1"
	defaultChatModel    = "llama-3.3-70b-versatile"
	defaultWhisperModel = "whisper-large-v3"

	replyMaxTokens = 200
	wrapMaxTokens  = 1500
	temperature    = 0.7
)

// ErrNotEnoughContent signals that the week holds too little conversation for
// a meaningful wrap. Callers show the "keep journaling" placeholder instead.
var ErrNotEnoughContent = errors.New("chat: not enough journaled content for a weekly wrap")

// OpenAIConfig configures the chat-completions adapter. The zero value points
// at the Groq OpenAI-compatible endpoint.
type OpenAIConfig struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to Groq's
	// OpenAI-compatible API.
	BaseURL string

	// ChatModel is the model for per-turn replies and weekly wraps.
	ChatModel string

	// WhisperModel is the speech-to-text model for voice notes.
	WhisperModel string
}

// OpenAI implements Responder, WrapSummariser and Transcriber on one
// chat-completions client. Safe for concurrent use.
type OpenAI struct {
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAI creates the adapter. The client carries no per-call state, so one
// instance serves all users.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqBase
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = defaultWhisperModel
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	)
	return &OpenAI{cfg: cfg, client: &client}
}

// Reply generates the empathetic follow-up for one user turn. Today's prior
// turns ride along as conversation history so the model keeps its thread.
func (o *OpenAI) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, turn := range req.History {
		switch turn.Role {
		case journal.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case journal.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(buildUserPrompt(req)))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.cfg.ChatModel),
		Messages:    messages,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(replyMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var wrapSchema = generateSchema[WeeklyWrap]()

// Summarise produces the structured weekly wrap from the formatted transcript.
func (o *OpenAI) Summarise(ctx context.Context, req WrapRequest) (*WeeklyWrap, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, ErrNotEnoughContent
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.ChatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(wrapSystemPrompt),
			openai.UserMessage(buildWrapPrompt(req.Transcript)),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(wrapMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "weekly_wrap",
					Description: openai.String("Structured weekly journal wrap-up"),
					Schema:      wrapSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat: wrap completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat: wrap completion returned no choices")
	}

	var wrap WeeklyWrap
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &wrap); err != nil {
		return nil, fmt.Errorf("chat: decode wrap: %w", err)
	}
	if len(wrap.Gratitude) == 0 && len(wrap.Learnings) == 0 && wrap.Reflection == "" {
		return nil, ErrNotEnoughContent
	}
	return &wrap, nil
}

// Transcribe converts a recorded voice note into text.
func (o *OpenAI) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(o.cfg.WhisperModel),
		File:  openai.File(audio, filename, "application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("chat: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Compile-time interface satisfaction checks.
var (
	_ Responder      = (*OpenAI)(nil)
	_ WrapSummariser = (*OpenAI)(nil)
	_ Transcriber    = (*OpenAI)(nil)
)
