package ai

import (
	"context"
	"errors"
)

// Role of a message in a conversation handed to a generator.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    Role
	Content string
}

// TextGenerator answers prompt given a system prompt and the prior turns,
// oldest first. Gemini and OpenAI-compatible providers implement it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt string, history []Message, prompt string) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without text.
var ErrEmptyResponse = errors.New("empty response from model")
