// Package pipeline sequences the processing of one inbound gateway
// event: dedup, rate check, classification, the downstream LLM/STT
// calls, history bookkeeping, and the outbound reply.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/quailyquaily/wamorph/db/models"
	"github.com/quailyquaily/wamorph/internal/commands"
	"github.com/quailyquaily/wamorph/internal/history"
	"github.com/quailyquaily/wamorph/llm"
)

type EventType string

const (
	EventText  EventType = "text"
	EventVoice EventType = "voice"
	EventImage EventType = "image"
)

// Event is one normalized inbound webhook delivery. Immutable once
// constructed by the webhook layer.
type Event struct {
	MessageID  string
	ChatID     string
	SenderID   string
	SenderName string
	Timestamp  time.Time
	Type       EventType
	Text       string
	// QuotedText is the body of the message this event replies to, when
	// the webhook carried one.
	QuotedText string
	MediaURL   string
	Caption    string
	IsGroup    bool
}

type Deduper interface {
	MarkAndCheck(ctx context.Context, messageID string) (bool, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, chatID string) (bool, error)
}

type History interface {
	Append(ctx context.Context, chatID, role, content string) error
	Read(ctx context.Context, chatID string) ([]history.Entry, error)
	AppendGroup(ctx context.Context, chatID, sender, content string) error
}

type Settings interface {
	Get(ctx context.Context, chatID string) (models.ChatSettings, error)
	IsBlocked(ctx context.Context, senderID string) (bool, error)
}

type Gateway interface {
	SendText(ctx context.Context, chatID, text string) error
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

type CommandRegistry interface {
	Handle(ctx context.Context, chat commands.Chat, cmd commands.Command) (string, error)
}

type Config struct {
	Nickname     string
	SystemPrompt string
	ChatModel    string
	VisionModel  string
	// NotifyThrottle sends one throttle notice per rejected event
	// instead of dropping silently.
	NotifyThrottle bool
	// EchoTranscript is the process-wide default for sending the voice
	// transcript back before the LLM answer; per-chat settings override
	// it on.
	EchoTranscript bool
}

type Options struct {
	Dedup       Deduper
	Rate        RateLimiter
	History     History
	Settings    Settings
	Gateway     Gateway
	LLM         llm.Client
	Transcriber llm.Transcriber
	Commands    CommandRegistry

	Config Config
	Logger *slog.Logger
	Now    func() time.Time
}

type Pipeline struct {
	dedup       Deduper
	rate        RateLimiter
	history     History
	settings    Settings
	gateway     Gateway
	llm         llm.Client
	transcriber llm.Transcriber
	commands    CommandRegistry

	cfg     Config
	logger  *slog.Logger
	nowFn   func() time.Time
	mention *regexp.Regexp
}

const (
	apologyText    = "Something went wrong while processing your message. Please try again later."
	throttleText   = "You are sending messages too quickly. Please slow down."
	defaultImageP  = "Describe this image."
	imagePlacehold = "[image]"
)

func New(opts Options) (*Pipeline, error) {
	if opts.Dedup == nil {
		return nil, fmt.Errorf("deduper is required")
	}
	if opts.Rate == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if opts.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("command registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	var mention *regexp.Regexp
	if nick := strings.TrimSpace(opts.Config.Nickname); nick != "" {
		// \b misfires when the nickname begins or ends in a non-word
		// rune ("@bot", "bot!"), so anchor on explicit non-word or
		// string edges instead. Also covers the "nick " / "nick,"
		// prefix forms.
		mention = regexp.MustCompile(`(?i)(^|\W)` + regexp.QuoteMeta(nick) + `(\W|$)`)
	}

	return &Pipeline{
		dedup:       opts.Dedup,
		rate:        opts.Rate,
		history:     opts.History,
		settings:    opts.Settings,
		gateway:     opts.Gateway,
		llm:         opts.LLM,
		transcriber: opts.Transcriber,
		commands:    opts.Commands,
		cfg:         opts.Config,
		logger:      logger,
		nowFn:       nowFn,
		mention:     mention,
	}, nil
}

// Process runs one event to completion. It never returns an error:
// expected terminals (duplicate, rate-limited, malformed) end silently,
// downstream failures end with a single best-effort apology reply.
func (p *Pipeline) Process(ctx context.Context, ev Event) {
	if err := p.process(ctx, ev); err != nil {
		p.logger.Error("pipeline_event_failed",
			"chat_id", ev.ChatID, "message_id", ev.MessageID, "type", string(ev.Type), "error", err.Error())
		if sendErr := p.gateway.SendText(ctx, ev.ChatID, apologyText); sendErr != nil {
			p.logger.Warn("pipeline_apology_send_failed", "chat_id", ev.ChatID, "error", sendErr.Error())
		}
	}
}

func (p *Pipeline) process(ctx context.Context, ev Event) error {
	if reason, ok := validate(ev); !ok {
		p.logger.Warn("pipeline_event_malformed", "message_id", ev.MessageID, "chat_id", ev.ChatID, "reason", reason)
		return nil
	}

	blocked, err := p.settings.IsBlocked(ctx, ev.SenderID)
	if err != nil {
		return fmt.Errorf("blocklist check: %w", err)
	}
	if blocked {
		p.logger.Info("pipeline_sender_blocked", "sender_id", ev.SenderID, "chat_id", ev.ChatID)
		return nil
	}

	first, err := p.dedup.MarkAndCheck(ctx, ev.MessageID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !first {
		p.logger.Debug("pipeline_duplicate_dropped", "message_id", ev.MessageID, "chat_id", ev.ChatID)
		return nil
	}

	allowed, err := p.rate.Allow(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("rate check: %w", err)
	}
	if !allowed {
		p.logger.Info("pipeline_rate_limited", "chat_id", ev.ChatID, "message_id", ev.MessageID)
		if p.cfg.NotifyThrottle {
			if err := p.gateway.SendText(ctx, ev.ChatID, throttleText); err != nil {
				p.logger.Warn("pipeline_throttle_notice_failed", "chat_id", ev.ChatID, "error", err.Error())
			}
		}
		return nil
	}

	switch ev.Type {
	case EventText:
		if cmd, ok := commands.Parse(ev.Text); ok {
			return p.handleCommand(ctx, ev, cmd)
		}
		text := ev.Text
		if ev.QuotedText != "" {
			text = fmt.Sprintf("[Quoted message]: %s\n\n%s", ev.QuotedText, text)
		}
		return p.chatTurn(ctx, ev, text)
	case EventVoice:
		return p.handleVoice(ctx, ev)
	case EventImage:
		return p.handleImage(ctx, ev)
	default:
		p.logger.Warn("pipeline_unsupported_type", "type", string(ev.Type), "message_id", ev.MessageID)
		return nil
	}
}

func validate(ev Event) (string, bool) {
	switch {
	case ev.MessageID == "":
		return "missing message_id", false
	case ev.ChatID == "":
		return "missing chat_id", false
	case ev.Type == EventText && strings.TrimSpace(ev.Text) == "":
		return "empty text", false
	case (ev.Type == EventVoice || ev.Type == EventImage) && ev.MediaURL == "":
		return "missing media url", false
	}
	return "", true
}

func (p *Pipeline) handleCommand(ctx context.Context, ev Event, cmd commands.Command) error {
	reply, err := p.commands.Handle(ctx, commands.Chat{ID: ev.ChatID, IsGroup: ev.IsGroup}, cmd)
	if err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if reply == "" {
		return nil
	}
	if err := p.gateway.SendText(ctx, ev.ChatID, reply); err != nil {
		// Delivery is the gateway's concern; the command side effects
		// already happened, so don't convert this into an apology.
		p.logger.Warn("pipeline_reply_send_failed", "chat_id", ev.ChatID, "error", err.Error())
	}
	return nil
}

func (p *Pipeline) handleVoice(ctx context.Context, ev Event) error {
	audio, err := p.gateway.DownloadMedia(ctx, ev.MediaURL)
	if err != nil {
		return fmt.Errorf("download voice: %w", err)
	}
	transcript, err := p.transcriber.Transcribe(ctx, "voice.ogg", bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("transcribe voice: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		p.logger.Info("pipeline_empty_transcript", "message_id", ev.MessageID, "chat_id", ev.ChatID)
		return nil
	}

	echo := p.cfg.EchoTranscript
	if !echo {
		st, err := p.settings.Get(ctx, ev.ChatID)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		echo = st.EchoTranscript
	}
	if echo {
		if err := p.gateway.SendText(ctx, ev.ChatID, "Transcript: "+transcript); err != nil {
			p.logger.Warn("pipeline_transcript_send_failed", "chat_id", ev.ChatID, "error", err.Error())
		}
	}

	return p.chatTurn(ctx, ev, transcript)
}

func (p *Pipeline) handleImage(ctx context.Context, ev Event) error {
	userTurn := strings.TrimSpace(ev.Caption)
	prompt := userTurn
	if prompt == "" {
		prompt = defaultImageP
		userTurn = imagePlacehold
	}

	if ev.IsGroup {
		if err := p.history.AppendGroup(ctx, ev.ChatID, ev.SenderName, userTurn); err != nil {
			p.logger.Warn("pipeline_group_log_failed", "chat_id", ev.ChatID, "error", err.Error())
		}
		respond, err := p.shouldRespondInGroup(ctx, ev.ChatID, ev.Caption)
		if err != nil {
			return err
		}
		if !respond {
			return p.recordOnly(ctx, ev.ChatID, userTurn)
		}
	}

	hist, err := p.history.Read(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	res, err := p.llm.Vision(ctx, llm.VisionRequest{
		Model:    p.cfg.VisionModel,
		ImageURL: ev.MediaURL,
		Prompt:   prompt,
		History:  p.promptMessages(hist),
	})
	if err != nil {
		return fmt.Errorf("vision: %w", err)
	}

	p.recordTurn(ctx, ev.ChatID, userTurn, res.Text)
	if err := p.gateway.SendText(ctx, ev.ChatID, res.Text); err != nil {
		p.logger.Warn("pipeline_reply_send_failed", "chat_id", ev.ChatID, "error", err.Error())
	}
	return nil
}

// chatTurn runs the plain conversation path for text (or a voice
// transcript standing in for text).
func (p *Pipeline) chatTurn(ctx context.Context, ev Event, text string) error {
	if ev.IsGroup {
		if err := p.history.AppendGroup(ctx, ev.ChatID, ev.SenderName, text); err != nil {
			p.logger.Warn("pipeline_group_log_failed", "chat_id", ev.ChatID, "error", err.Error())
		}
		respond, err := p.shouldRespondInGroup(ctx, ev.ChatID, text)
		if err != nil {
			return err
		}
		if !respond {
			return p.recordOnly(ctx, ev.ChatID, text)
		}
	}

	hist, err := p.history.Read(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	messages := append(p.promptMessages(hist), llm.Message{Role: llm.RoleUser, Content: text})

	res, err := p.llm.Chat(ctx, llm.Request{Model: p.cfg.ChatModel, Messages: messages})
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	p.recordTurn(ctx, ev.ChatID, text, res.Text)
	if err := p.gateway.SendText(ctx, ev.ChatID, res.Text); err != nil {
		p.logger.Warn("pipeline_reply_send_failed", "chat_id", ev.ChatID, "error", err.Error())
	}
	return nil
}

// shouldRespondInGroup applies the auto-respond gate: groups get an LLM
// reply only when auto-respond is on or the bot nickname is mentioned.
func (p *Pipeline) shouldRespondInGroup(ctx context.Context, chatID, text string) (bool, error) {
	st, err := p.settings.Get(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if st.AutoRespond {
		return true, nil
	}
	return p.mention != nil && p.mention.MatchString(text), nil
}

// recordOnly keeps the user turn in context without invoking the LLM.
func (p *Pipeline) recordOnly(ctx context.Context, chatID, text string) error {
	if err := p.history.Append(ctx, chatID, llm.RoleUser, text); err != nil {
		p.logger.Warn("pipeline_history_append_failed", "chat_id", chatID, "error", err.Error())
	}
	return nil
}

// recordTurn appends both sides of a completed turn. History failures
// are logged but do not retract an already-generated reply.
func (p *Pipeline) recordTurn(ctx context.Context, chatID, userText, assistantText string) {
	if err := p.history.Append(ctx, chatID, llm.RoleUser, userText); err != nil {
		p.logger.Warn("pipeline_history_append_failed", "chat_id", chatID, "error", err.Error())
	}
	if err := p.history.Append(ctx, chatID, llm.RoleAssistant, assistantText); err != nil {
		p.logger.Warn("pipeline_history_append_failed", "chat_id", chatID, "error", err.Error())
	}
}

func (p *Pipeline) promptMessages(hist []history.Entry) []llm.Message {
	messages := make([]llm.Message, 0, len(hist)+2)
	if p.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: p.cfg.SystemPrompt})
	}
	for _, e := range hist {
		messages = append(messages, llm.Message{Role: e.Role, Content: e.Content})
	}
	return messages
}
