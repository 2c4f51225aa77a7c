package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/quailyquaily/wamorph/llm"
)

const defaultSummaryPrompt = "You are given the recent message history of a group chat. " +
	"Write a short, structured summary of the discussion: key topics, decisions, and notable moments."

// LLMSummarizer implements the command registry's Summarizer on top of
// the chat model.
type LLMSummarizer struct {
	Client llm.Client
	Model  string
	Prompt string
}

func (s *LLMSummarizer) Summarize(ctx context.Context, lines []string) (string, error) {
	if s.Client == nil {
		return "", fmt.Errorf("llm client is required")
	}
	prompt := s.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultSummaryPrompt
	}
	res, err := s.Client.Chat(ctx, llm.Request{
		Model: s.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: strings.Join(lines, "\n")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return res.Text, nil
}
