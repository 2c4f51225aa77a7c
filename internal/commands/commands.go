// Package commands implements the slash-command registry. The command
// set is a closed enum dispatched by a single switch; anything that does
// not parse as a known command falls through to the chat path.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/quailyquaily/wamorph/db/models"
	"github.com/quailyquaily/wamorph/internal/history"
	"github.com/quailyquaily/wamorph/internal/imagegen"
)

type Kind int

const (
	KindHelp Kind = iota + 1
	KindReset
	KindSummary
	KindAIOn
	KindAIOff
	KindTranscribe
	KindStats
	KindSearch
	KindDraw
)

type Command struct {
	Kind Kind
	Args string
}

// Parse extracts a command from the leading token of a text message.
// Matching is case-insensitive and requires the slash prefix; "/ai"
// consumes its on|off argument as part of the kind.
func Parse(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}
	token := trimmed
	args := ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		token = trimmed[:i]
		args = strings.TrimSpace(trimmed[i+1:])
	}
	switch strings.ToLower(token) {
	case "/help":
		return Command{Kind: KindHelp}, true
	case "/reset":
		return Command{Kind: KindReset}, true
	case "/summary":
		return Command{Kind: KindSummary}, true
	case "/transcribe":
		return Command{Kind: KindTranscribe}, true
	case "/stats":
		return Command{Kind: KindStats}, true
	case "/search":
		return Command{Kind: KindSearch, Args: args}, true
	case "/draw":
		return Command{Kind: KindDraw, Args: args}, true
	case "/ai":
		switch strings.ToLower(args) {
		case "on":
			return Command{Kind: KindAIOn}, true
		case "off":
			return Command{Kind: KindAIOff}, true
		}
		return Command{}, false
	}
	return Command{}, false
}

// Chat identifies the conversation a command arrived in.
type Chat struct {
	ID      string
	IsGroup bool
}

type History interface {
	Read(ctx context.Context, chatID string) ([]history.Entry, error)
	Clear(ctx context.Context, chatID string) error
	ReadGroup(ctx context.Context, chatID string, n int) ([]history.GroupEntry, error)
	ClearGroup(ctx context.Context, chatID string) error
}

type Settings interface {
	Get(ctx context.Context, chatID string) (models.ChatSettings, error)
	SetAutoRespond(ctx context.Context, chatID string, enabled bool) error
	SetEchoTranscript(ctx context.Context, chatID string, enabled bool) error
}

// Summarizer condenses logged group messages into a short digest.
type Summarizer interface {
	Summarize(ctx context.Context, lines []string) (string, error)
}

// ChatLog reads the gateway-side message log as preformatted
// "sender: content" lines, oldest first. It backs /summary when the
// bot's own group log is too thin, e.g. right after the bot joined.
type ChatLog interface {
	RecentLines(ctx context.Context, chatID string, n int) ([]string, error)
}

// Searcher answers a query from web results, sources included.
type Searcher interface {
	SearchAndSummarize(ctx context.Context, query string) (string, error)
}

// ImageGenerator builds a verified image URL for a description.
type ImageGenerator interface {
	Generate(ctx context.Context, description string) (imagegen.Image, error)
}

// FileSender delivers a file by URL; /draw replies with the image
// itself rather than a link.
type FileSender interface {
	SendFileByURL(ctx context.Context, chatID, fileURL, fileName, caption string) error
}

type RegistryOptions struct {
	History    History
	Settings   Settings
	Summarizer Summarizer
	// ChatLog is optional; without it /summary relies on the group log
	// alone.
	ChatLog ChatLog

	// Searcher and ImageGen are optional; the matching commands reply
	// that they are unavailable when unset. Files is required when
	// ImageGen is set.
	Searcher Searcher
	ImageGen ImageGenerator
	Files    FileSender

	Nickname string
	// SummaryMessageCount is how many logged group messages feed one
	// summary; SummaryMinMessages gates the command below that.
	SummaryMessageCount int
	SummaryMinMessages  int
}

type Registry struct {
	history    History
	settings   Settings
	summarizer Summarizer
	chatLog    ChatLog
	searcher   Searcher
	imageGen   ImageGenerator
	files      FileSender

	nickname     string
	summaryCount int
	summaryMin   int
}

const (
	DefaultSummaryMessageCount = 50
	DefaultSummaryMinMessages  = 5

	// Summary prompts are truncated from the front so the most recent
	// messages survive provider context limits.
	maxSummaryChars = 4000
)

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if opts.ImageGen != nil && opts.Files == nil {
		return nil, fmt.Errorf("file sender is required with an image generator")
	}
	count := opts.SummaryMessageCount
	if count <= 0 {
		count = DefaultSummaryMessageCount
	}
	min := opts.SummaryMinMessages
	if min <= 0 {
		min = DefaultSummaryMinMessages
	}
	return &Registry{
		history:      opts.History,
		settings:     opts.Settings,
		summarizer:   opts.Summarizer,
		chatLog:      opts.ChatLog,
		searcher:     opts.Searcher,
		imageGen:     opts.ImageGen,
		files:        opts.Files,
		nickname:     strings.TrimSpace(opts.Nickname),
		summaryCount: count,
		summaryMin:   min,
	}, nil
}

// Handle executes the command and returns the reply text. An error means
// a downstream dependency failed; the caller owns the apology reply.
func (r *Registry) Handle(ctx context.Context, chat Chat, cmd Command) (string, error) {
	switch cmd.Kind {
	case KindHelp:
		return r.helpText(), nil
	case KindReset:
		if err := r.history.Clear(ctx, chat.ID); err != nil {
			return "", err
		}
		if err := r.history.ClearGroup(ctx, chat.ID); err != nil {
			return "", err
		}
		return "Context cleared.", nil
	case KindSummary:
		return r.handleSummary(ctx, chat)
	case KindAIOn:
		if err := r.settings.SetAutoRespond(ctx, chat.ID, true); err != nil {
			return "", err
		}
		return "Auto-respond enabled.", nil
	case KindAIOff:
		if err := r.settings.SetAutoRespond(ctx, chat.ID, false); err != nil {
			return "", err
		}
		return "Auto-respond disabled.", nil
	case KindTranscribe:
		current, err := r.settings.Get(ctx, chat.ID)
		if err != nil {
			return "", err
		}
		next := !current.EchoTranscript
		if err := r.settings.SetEchoTranscript(ctx, chat.ID, next); err != nil {
			return "", err
		}
		if next {
			return "Transcript echo enabled.", nil
		}
		return "Transcript echo disabled.", nil
	case KindStats:
		entries, err := r.history.Read(ctx, chat.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Messages in context: %d", len(entries)), nil
	case KindSearch:
		return r.handleSearch(ctx, cmd.Args)
	case KindDraw:
		return r.handleDraw(ctx, chat, cmd.Args)
	default:
		return "", fmt.Errorf("unknown command kind: %d", cmd.Kind)
	}
}

func (r *Registry) handleSummary(ctx context.Context, chat Chat) (string, error) {
	if !chat.IsGroup {
		return "The /summary command works in group chats only.", nil
	}
	entries, err := r.history.ReadGroup(ctx, chat.ID, r.summaryCount)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Sender, e.Content))
	}

	// The group log only covers what arrived while the bot was running;
	// fall back to the gateway's own chat log when it is too thin.
	if len(lines) < r.summaryMin && r.chatLog != nil {
		logged, err := r.chatLog.RecentLines(ctx, chat.ID, r.summaryCount)
		if err != nil {
			return "", err
		}
		if len(logged) > len(lines) {
			lines = logged
		}
	}
	if len(lines) < r.summaryMin {
		return fmt.Sprintf("Not enough messages to summarize yet (%d collected, %d needed).", len(lines), r.summaryMin), nil
	}

	total := 0
	for _, line := range lines {
		total += len(line)
	}
	for total > maxSummaryChars && len(lines) > r.summaryMin {
		total -= len(lines[0])
		lines = lines[1:]
	}

	summary, err := r.summarizer.Summarize(ctx, lines)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Summary (%d messages):\n\n%s", len(lines), summary), nil
}

func (r *Registry) handleSearch(ctx context.Context, query string) (string, error) {
	if r.searcher == nil {
		return "Web search is not configured.", nil
	}
	if query == "" {
		return "Usage: /search <query>\n\nExample: /search latest Go release", nil
	}
	return r.searcher.SearchAndSummarize(ctx, query)
}

// handleDraw sends the image itself; an empty reply tells the caller
// nothing more needs to go out.
func (r *Registry) handleDraw(ctx context.Context, chat Chat, description string) (string, error) {
	if r.imageGen == nil {
		return "Image generation is not configured.", nil
	}
	if description == "" {
		return "Usage: /draw <description>\n\nExample: /draw a lighthouse in a storm, oil painting", nil
	}
	img, err := r.imageGen.Generate(ctx, description)
	if err != nil {
		return "", err
	}

	preview := img.Prompt
	if len(preview) > 150 {
		preview = preview[:150] + "..."
	}
	caption := fmt.Sprintf("%s\n\nPrompt: %s\nSeed: %d", description, preview, img.Seed)
	fileName := fmt.Sprintf("art_%d.png", img.Seed)
	if err := r.files.SendFileByURL(ctx, chat.ID, img.URL, fileName, caption); err != nil {
		return "", err
	}
	return "", nil
}

func (r *Registry) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("/reset - clear conversation context\n")
	b.WriteString("/ai on|off - toggle auto-respond in groups\n")
	b.WriteString("/summary - summarize recent group messages\n")
	b.WriteString("/transcribe - toggle transcript echo for voice messages\n")
	b.WriteString("/search <query> - answer from web results, with sources\n")
	b.WriteString("/draw <description> - generate an image\n")
	b.WriteString("/stats - context statistics")
	if r.nickname != "" {
		fmt.Fprintf(&b, "\n\nMention me as %q in groups to get a reply.", r.nickname)
	}
	return b.String()
}
