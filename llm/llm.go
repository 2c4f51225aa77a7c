package llm

import (
	"context"
	"io"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

type Request struct {
	Model    string
	Messages []Message
}

// VisionRequest carries an image by URL together with the user's prompt.
// History is optional prior context included before the image turn.
type VisionRequest struct {
	Model    string
	ImageURL string
	Prompt   string
	History  []Message
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
	Vision(ctx context.Context, req VisionRequest) (Result, error)
}

// Transcriber converts recorded audio to text. The name hints the
// container format to the provider (e.g. "voice.ogg").
type Transcriber interface {
	Transcribe(ctx context.Context, name string, audio io.Reader) (string, error)
}
