package commands

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/quailyquaily/wamorph/db/models"
	"github.com/quailyquaily/wamorph/internal/history"
	"github.com/quailyquaily/wamorph/internal/imagegen"
)

func TestParse(t *testing.T) {
	cases := []struct {
		text     string
		wantKind Kind
		wantOK   bool
		wantArgs string
	}{
		{text: "/help", wantKind: KindHelp, wantOK: true},
		{text: "/HELP", wantKind: KindHelp, wantOK: true},
		{text: "  /reset  ", wantKind: KindReset, wantOK: true},
		{text: "/summary", wantKind: KindSummary, wantOK: true},
		{text: "/ai on", wantKind: KindAIOn, wantOK: true},
		{text: "/ai OFF", wantKind: KindAIOff, wantOK: true},
		{text: "/ai", wantOK: false},
		{text: "/ai maybe", wantOK: false},
		{text: "/transcribe", wantKind: KindTranscribe, wantOK: true},
		{text: "/stats", wantKind: KindStats, wantOK: true},
		{text: "/search latest go release", wantKind: KindSearch, wantOK: true, wantArgs: "latest go release"},
		{text: "/search", wantKind: KindSearch, wantOK: true},
		{text: "/draw a red bicycle", wantKind: KindDraw, wantOK: true, wantArgs: "a red bicycle"},
		{text: "/draw", wantKind: KindDraw, wantOK: true},
		{text: "/unknown", wantOK: false},
		{text: "hello", wantOK: false},
		{text: "reset please", wantOK: false},
		{text: "", wantOK: false},
	}
	for _, tc := range cases {
		cmd, ok := Parse(tc.text)
		if ok != tc.wantOK {
			t.Fatalf("Parse(%q) ok = %v, want %v", tc.text, ok, tc.wantOK)
		}
		if ok && cmd.Kind != tc.wantKind {
			t.Fatalf("Parse(%q) kind = %d, want %d", tc.text, cmd.Kind, tc.wantKind)
		}
		if ok && cmd.Args != tc.wantArgs {
			t.Fatalf("Parse(%q) args = %q, want %q", tc.text, cmd.Args, tc.wantArgs)
		}
	}
}

type fakeHistory struct {
	entries      []history.Entry
	group        []history.GroupEntry
	cleared      bool
	groupCleared bool
}

func (f *fakeHistory) Read(context.Context, string) ([]history.Entry, error) {
	return f.entries, nil
}

func (f *fakeHistory) Clear(context.Context, string) error {
	f.cleared = true
	f.entries = nil
	return nil
}

func (f *fakeHistory) ReadGroup(_ context.Context, _ string, n int) ([]history.GroupEntry, error) {
	if len(f.group) > n {
		return f.group[len(f.group)-n:], nil
	}
	return f.group, nil
}

func (f *fakeHistory) ClearGroup(context.Context, string) error {
	f.groupCleared = true
	f.group = nil
	return nil
}

type fakeSettings struct {
	row models.ChatSettings
}

func (f *fakeSettings) Get(context.Context, string) (models.ChatSettings, error) {
	return f.row, nil
}

func (f *fakeSettings) SetAutoRespond(_ context.Context, _ string, enabled bool) error {
	f.row.AutoRespond = enabled
	return nil
}

func (f *fakeSettings) SetEchoTranscript(_ context.Context, _ string, enabled bool) error {
	f.row.EchoTranscript = enabled
	return nil
}

type fakeSummarizer struct {
	calls int
	lines []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, lines []string) (string, error) {
	f.calls++
	f.lines = lines
	return "the digest", nil
}

type fakeChatLog struct {
	calls int
	lines []string
	err   error
}

func (f *fakeChatLog) RecentLines(_ context.Context, _ string, n int) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.lines) > n {
		return f.lines[:n], nil
	}
	return f.lines, nil
}

type fakeSearcher struct {
	lastQuery string
	answer    string
	err       error
}

func (f *fakeSearcher) SearchAndSummarize(_ context.Context, query string) (string, error) {
	f.lastQuery = query
	return f.answer, f.err
}

type fakeImageGen struct {
	lastDescription string
	img             imagegen.Image
	err             error
}

func (f *fakeImageGen) Generate(_ context.Context, description string) (imagegen.Image, error) {
	f.lastDescription = description
	if f.err != nil {
		return imagegen.Image{}, f.err
	}
	return f.img, nil
}

type fakeFiles struct {
	chatID   string
	fileURL  string
	fileName string
	caption  string
	calls    int
}

func (f *fakeFiles) SendFileByURL(_ context.Context, chatID, fileURL, fileName, caption string) error {
	f.calls++
	f.chatID, f.fileURL, f.fileName, f.caption = chatID, fileURL, fileName, caption
	return nil
}

func newTestRegistry(t *testing.T, h *fakeHistory, s *fakeSettings, sum *fakeSummarizer) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryOptions{
		History:            h,
		Settings:           s,
		Summarizer:         sum,
		Nickname:           "morphy",
		SummaryMinMessages: 3,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestHandleReset(t *testing.T) {
	h := &fakeHistory{entries: []history.Entry{{Role: "user", Content: "hi"}}}
	r := newTestRegistry(t, h, &fakeSettings{}, &fakeSummarizer{})

	reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindReset})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !h.cleared || !h.groupCleared {
		t.Fatalf("reset cleared=%v groupCleared=%v, want both true", h.cleared, h.groupCleared)
	}
	if reply == "" {
		t.Fatal("reset reply is empty")
	}
}

func TestHandleSummaryGroupOnly(t *testing.T) {
	sum := &fakeSummarizer{}
	r := newTestRegistry(t, &fakeHistory{}, &fakeSettings{}, sum)

	reply, err := r.Handle(context.Background(), Chat{ID: "c1", IsGroup: false}, Command{Kind: KindSummary})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(reply, "group") {
		t.Fatalf("reply = %q, want group-only notice", reply)
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer calls = %d, want 0", sum.calls)
	}
}

func TestHandleSummaryNotEnoughMessages(t *testing.T) {
	sum := &fakeSummarizer{}
	h := &fakeHistory{group: []history.GroupEntry{{Sender: "a", Content: "one"}}}
	r := newTestRegistry(t, h, &fakeSettings{}, sum)

	reply, err := r.Handle(context.Background(), Chat{ID: "g1", IsGroup: true}, Command{Kind: KindSummary})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(reply, "Not enough messages") {
		t.Fatalf("reply = %q, want not-enough notice", reply)
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer calls = %d, want 0", sum.calls)
	}
}

func TestHandleSummary(t *testing.T) {
	sum := &fakeSummarizer{}
	h := &fakeHistory{}
	for i := 0; i < 4; i++ {
		h.group = append(h.group, history.GroupEntry{Sender: "a", Content: fmt.Sprintf("m%d", i)})
	}
	r := newTestRegistry(t, h, &fakeSettings{}, sum)

	reply, err := r.Handle(context.Background(), Chat{ID: "g1", IsGroup: true}, Command{Kind: KindSummary})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if sum.calls != 1 {
		t.Fatalf("summarizer calls = %d, want 1", sum.calls)
	}
	if len(sum.lines) != 4 || sum.lines[0] != "a: m0" {
		t.Fatalf("summarizer lines = %v", sum.lines)
	}
	if !strings.Contains(reply, "the digest") {
		t.Fatalf("reply = %q, want digest included", reply)
	}
}

func TestHandleSummaryFallsBackToChatLog(t *testing.T) {
	sum := &fakeSummarizer{}
	h := &fakeHistory{group: []history.GroupEntry{{Sender: "a", Content: "only one"}}}
	log := &fakeChatLog{lines: []string{"Alice: m0", "Bob: m1", "Alice: m2", "Bob: m3"}}
	r, err := NewRegistry(RegistryOptions{
		History:            h,
		Settings:           &fakeSettings{},
		Summarizer:         sum,
		ChatLog:            log,
		Nickname:           "morphy",
		SummaryMinMessages: 3,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	reply, err := r.Handle(context.Background(), Chat{ID: "g1", IsGroup: true}, Command{Kind: KindSummary})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if log.calls != 1 {
		t.Fatalf("chat log calls = %d, want 1", log.calls)
	}
	if sum.calls != 1 {
		t.Fatalf("summarizer calls = %d, want 1", sum.calls)
	}
	if len(sum.lines) != 4 || sum.lines[0] != "Alice: m0" {
		t.Fatalf("summarizer lines = %v, want the chat log lines", sum.lines)
	}
	if !strings.Contains(reply, "the digest") {
		t.Fatalf("reply = %q, want digest included", reply)
	}
}

func TestHandleSummaryChatLogAlsoThin(t *testing.T) {
	sum := &fakeSummarizer{}
	h := &fakeHistory{group: []history.GroupEntry{{Sender: "a", Content: "only one"}}}
	log := &fakeChatLog{lines: []string{"Alice: m0", "Bob: m1"}}
	r, err := NewRegistry(RegistryOptions{
		History:            h,
		Settings:           &fakeSettings{},
		Summarizer:         sum,
		ChatLog:            log,
		SummaryMinMessages: 3,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	reply, err := r.Handle(context.Background(), Chat{ID: "g1", IsGroup: true}, Command{Kind: KindSummary})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(reply, "Not enough messages") {
		t.Fatalf("reply = %q, want not-enough notice", reply)
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer calls = %d, want 0", sum.calls)
	}
}

func TestHandleSearch(t *testing.T) {
	t.Run("not_configured", func(t *testing.T) {
		r := newTestRegistry(t, &fakeHistory{}, &fakeSettings{}, &fakeSummarizer{})
		reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindSearch, Args: "go"})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "not configured") {
			t.Fatalf("reply = %q, want not-configured notice", reply)
		}
	})

	search := &fakeSearcher{answer: "Go 1.24 is out [1]."}
	r, err := NewRegistry(RegistryOptions{
		History:    &fakeHistory{},
		Settings:   &fakeSettings{},
		Summarizer: &fakeSummarizer{},
		Searcher:   search,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	t.Run("usage", func(t *testing.T) {
		reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindSearch})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "Usage: /search") {
			t.Fatalf("reply = %q, want usage text", reply)
		}
	})

	t.Run("query", func(t *testing.T) {
		reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindSearch, Args: "latest go release"})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if search.lastQuery != "latest go release" {
			t.Fatalf("query = %q, want the command args", search.lastQuery)
		}
		if reply != search.answer {
			t.Fatalf("reply = %q, want the search answer", reply)
		}
	})
}

func TestHandleDraw(t *testing.T) {
	t.Run("not_configured", func(t *testing.T) {
		r := newTestRegistry(t, &fakeHistory{}, &fakeSettings{}, &fakeSummarizer{})
		reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindDraw, Args: "a cat"})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "not configured") {
			t.Fatalf("reply = %q, want not-configured notice", reply)
		}
	})

	gen := &fakeImageGen{img: imagegen.Image{
		URL:    "https://img.example/prompt/x?seed=42",
		Prompt: "a red bicycle, studio lighting",
		Seed:   42,
	}}
	files := &fakeFiles{}
	r, err := NewRegistry(RegistryOptions{
		History:    &fakeHistory{},
		Settings:   &fakeSettings{},
		Summarizer: &fakeSummarizer{},
		ImageGen:   gen,
		Files:      files,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	t.Run("usage", func(t *testing.T) {
		reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindDraw})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "Usage: /draw") {
			t.Fatalf("reply = %q, want usage text", reply)
		}
		if files.calls != 0 {
			t.Fatalf("file sends = %d, want 0", files.calls)
		}
	})

	t.Run("sends_image", func(t *testing.T) {
		reply, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindDraw, Args: "a red bicycle"})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if reply != "" {
			t.Fatalf("reply = %q, want empty (the image is the reply)", reply)
		}
		if files.calls != 1 {
			t.Fatalf("file sends = %d, want 1", files.calls)
		}
		if files.chatID != "c1" || files.fileURL != gen.img.URL {
			t.Fatalf("sent chat=%q url=%q", files.chatID, files.fileURL)
		}
		if files.fileName != "art_42.png" {
			t.Fatalf("file name = %q, want art_42.png", files.fileName)
		}
		if !strings.Contains(files.caption, "a red bicycle") ||
			!strings.Contains(files.caption, gen.img.Prompt) ||
			!strings.Contains(files.caption, "Seed: 42") {
			t.Fatalf("caption = %q, want description, prompt and seed", files.caption)
		}
	})

	t.Run("generator_error", func(t *testing.T) {
		gen.err = fmt.Errorf("endpoint down")
		defer func() { gen.err = nil }()
		if _, err := r.Handle(context.Background(), Chat{ID: "c1"}, Command{Kind: KindDraw, Args: "a cat"}); err == nil {
			t.Fatalf("Handle() returned nil error when generation failed")
		}
	})

	t.Run("requires_file_sender", func(t *testing.T) {
		_, err := NewRegistry(RegistryOptions{
			History:    &fakeHistory{},
			Settings:   &fakeSettings{},
			Summarizer: &fakeSummarizer{},
			ImageGen:   gen,
		})
		if err == nil {
			t.Fatalf("NewRegistry() accepted an image generator without a file sender")
		}
	})
}

func TestHandleAIToggle(t *testing.T) {
	s := &fakeSettings{}
	r := newTestRegistry(t, &fakeHistory{}, s, &fakeSummarizer{})
	ctx := context.Background()

	if _, err := r.Handle(ctx, Chat{ID: "g1", IsGroup: true}, Command{Kind: KindAIOn}); err != nil {
		t.Fatalf("Handle(ai on) error = %v", err)
	}
	if !s.row.AutoRespond {
		t.Fatal("auto-respond not enabled")
	}
	if _, err := r.Handle(ctx, Chat{ID: "g1", IsGroup: true}, Command{Kind: KindAIOff}); err != nil {
		t.Fatalf("Handle(ai off) error = %v", err)
	}
	if s.row.AutoRespond {
		t.Fatal("auto-respond not disabled")
	}
}

func TestHandleTranscribeToggle(t *testing.T) {
	s := &fakeSettings{}
	r := newTestRegistry(t, &fakeHistory{}, s, &fakeSummarizer{})
	ctx := context.Background()

	reply, err := r.Handle(ctx, Chat{ID: "c1"}, Command{Kind: KindTranscribe})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !s.row.EchoTranscript || !strings.Contains(reply, "enabled") {
		t.Fatalf("first toggle: echo=%v reply=%q", s.row.EchoTranscript, reply)
	}
	reply, err = r.Handle(ctx, Chat{ID: "c1"}, Command{Kind: KindTranscribe})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if s.row.EchoTranscript || !strings.Contains(reply, "disabled") {
		t.Fatalf("second toggle: echo=%v reply=%q", s.row.EchoTranscript, reply)
	}
}
