// Package llm wraps the generation and vision backends behind a vendor-neutral
// chat contract: system instructions, bounded history and the current query.
package llm

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	System      string
	History     []Message
	Query       string
	Temperature float32
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Image is one decoded upload. MIMEType is e.g. "image/jpeg".
type Image struct {
	Data     []byte
	MIMEType string
}

var ErrEmptyResponse = errors.New("backend returned no content")

// Generator produces a single completion for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Streamer is implemented by generators that can emit partial output.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(string) error) (*Response, error)
}

// VisionBackend answers an instruction about a single image with raw text.
type VisionBackend interface {
	Describe(ctx context.Context, instruction string, img Image) (string, error)
}
