package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/wamorph/gateway"
	"github.com/quailyquaily/wamorph/llm"
)

// ChatHistorySource reads the gateway's own message log for a chat and
// fetches media referenced by its entries.
type ChatHistorySource interface {
	ChatHistory(ctx context.Context, chatID string, count int) ([]gateway.HistoryMessage, error)
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// GatewayChatLog formats the gateway-side chat log into summarizable
// "sender: content" lines. Voice entries are transcribed so spoken
// messages contribute to the summary; transcription failures degrade to
// a placeholder instead of failing the whole log.
type GatewayChatLog struct {
	Source      ChatHistorySource
	Transcriber llm.Transcriber
	// BotName labels outgoing entries; defaults to "Bot".
	BotName string
	Logger  *slog.Logger
}

func (g *GatewayChatLog) RecentLines(ctx context.Context, chatID string, n int) ([]string, error) {
	if g.Source == nil {
		return nil, fmt.Errorf("chat history source is required")
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	botName := g.BotName
	if botName == "" {
		botName = "Bot"
	}

	msgs, err := g.Source.ChatHistory(ctx, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("gateway chat history: %w", err)
	}

	lines := make([]string, 0, len(msgs))
	// The gateway returns newest first; summaries read oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		sender := m.SenderName
		if m.Type == "outgoing" {
			sender = botName
		}
		if sender == "" {
			sender = "?"
		}

		var content string
		switch m.TypeMessage {
		case "textMessage":
			content = m.TextMessage
		case "extendedTextMessage":
			content = m.ExtendedTextMessage.Text
			if content == "" {
				content = m.TextMessage
			}
		case "audioMessage", "voiceMessage":
			content = g.transcribeEntry(ctx, m, logger)
		case "imageMessage":
			content = strings.TrimSpace("[image] " + m.Caption)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		lines = append(lines, sender+": "+content)
	}
	return lines, nil
}

func (g *GatewayChatLog) transcribeEntry(ctx context.Context, m gateway.HistoryMessage, logger *slog.Logger) string {
	if m.DownloadURL == "" || g.Transcriber == nil {
		return "[voice]"
	}
	audio, err := g.Source.DownloadMedia(ctx, m.DownloadURL)
	if err != nil {
		logger.Warn("chatlog_voice_download_failed", "message_id", m.IDMessage, "error", err.Error())
		return "[voice]"
	}
	transcript, err := g.Transcriber.Transcribe(ctx, "voice.ogg", bytes.NewReader(audio))
	if err != nil {
		logger.Warn("chatlog_voice_transcribe_failed", "message_id", m.IDMessage, "error", err.Error())
		return "[voice]"
	}
	if strings.TrimSpace(transcript) == "" {
		return "[voice]"
	}
	return "[voice]: " + transcript
}
