package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/quailyquaily/wamorph/llm"
)

type fakeLLM struct {
	calls    int
	lastChat llm.Request
	reply    string
	err      error
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	f.calls++
	f.lastChat = req
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.reply}, nil
}

func (f *fakeLLM) Vision(ctx context.Context, req llm.VisionRequest) (llm.Result, error) {
	return llm.Result{}, fmt.Errorf("unexpected vision call")
}

// newSearchServer serves a result page pointing at its own /page1 and
// /page2 endpoints through redirect-style links.
func newSearchServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q == "" {
			t.Errorf("search request is missing the q parameter")
		}
		page := func(path, title, snippet string) string {
			target := url.QueryEscape(srv.URL + path)
			return fmt.Sprintf(
				`<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=%s&amp;rut=abc">%s</a>`+
					`<a class="result__snippet">%s</a>`, target, title, snippet)
		}
		fmt.Fprint(w, "<html><body>",
			page("/page1", "Go 1.24 Release Notes", "What is new in Go 1.24"),
			page("/page2", "Go Blog", "Release announcement"),
			"</body></html>")
	})
	mux.HandleFunc("/page1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><nav>menu</nav><body><p>",
			"Go 1.24 ships generic type aliases and a faster runtime. ",
			strings.Repeat("The release also improves tooling. ", 5),
			"</p></body></html>")
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><p>",
			strings.Repeat("Announcement details for the new release. ", 5),
			"</p></body></html>")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchAndSummarize(t *testing.T) {
	srv := newSearchServer(t)
	f := &fakeLLM{reply: "Go 1.24 adds generic type aliases [1]."}
	s, err := New(Options{LLM: f, Model: "gpt-4o-mini", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	out, err := s.SearchAndSummarize(context.Background(), "go 1.24 features")
	if err != nil {
		t.Fatalf("SearchAndSummarize() error: %v", err)
	}
	if !strings.Contains(out, f.reply) {
		t.Fatalf("output %q does not contain the llm answer", out)
	}
	if !strings.Contains(out, "Sources:") || !strings.Contains(out, "[1] Go 1.24 Release Notes") {
		t.Fatalf("output %q is missing the source list", out)
	}
	if !strings.Contains(out, srv.URL+"/page1") {
		t.Fatalf("output %q is missing the unwrapped result url", out)
	}

	if f.calls != 1 {
		t.Fatalf("llm calls = %d, want 1", f.calls)
	}
	prompt := f.lastChat.Messages[len(f.lastChat.Messages)-1].Content
	if !strings.Contains(prompt, "go 1.24 features") {
		t.Fatalf("llm prompt %q is missing the query", prompt)
	}
	if !strings.Contains(prompt, "generic type aliases") {
		t.Fatalf("llm prompt %q is missing fetched page content", prompt)
	}
	if strings.Contains(prompt, "menu") {
		t.Fatalf("llm prompt %q includes stripped navigation text", prompt)
	}
}

func TestSearchAndSummarizeNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>no matches</body></html>")
	}))
	defer srv.Close()

	f := &fakeLLM{}
	s, err := New(Options{LLM: f, Model: "gpt-4o-mini", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	out, err := s.SearchAndSummarize(context.Background(), "xqzv")
	if err != nil {
		t.Fatalf("SearchAndSummarize() error: %v", err)
	}
	if !strings.Contains(out, "No results found") {
		t.Fatalf("output = %q, want a no-results notice", out)
	}
	if f.calls != 0 {
		t.Fatalf("llm calls = %d, want 0", f.calls)
	}
}

func TestSearchAndSummarizeLLMFallback(t *testing.T) {
	srv := newSearchServer(t)
	f := &fakeLLM{err: fmt.Errorf("provider down")}
	s, err := New(Options{LLM: f, Model: "gpt-4o-mini", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	out, err := s.SearchAndSummarize(context.Background(), "go 1.24 features")
	if err != nil {
		t.Fatalf("SearchAndSummarize() error: %v, want plain-results fallback", err)
	}
	if !strings.Contains(out, "Go 1.24 Release Notes") || !strings.Contains(out, srv.URL+"/page1") {
		t.Fatalf("fallback output %q is missing the result list", out)
	}
}

func TestSearchMaxResults(t *testing.T) {
	srv := newSearchServer(t)
	f := &fakeLLM{reply: "ok"}
	s, err := New(Options{LLM: f, Model: "gpt-4o-mini", BaseURL: srv.URL, MaxResults: 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	out, err := s.SearchAndSummarize(context.Background(), "go")
	if err != nil {
		t.Fatalf("SearchAndSummarize() error: %v", err)
	}
	if strings.Contains(out, "[2]") {
		t.Fatalf("output %q includes a second result despite MaxResults=1", out)
	}
}

func TestExtractResultURL(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"direct", "https://go.dev/blog", "https://go.dev/blog"},
		{"redirect", "//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fblog&rut=abc", "https://go.dev/blog"},
		{"protocol_relative", "//example.com/page", "https://example.com/page"},
		{"garbage", "javascript:void(0)", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractResultURL(tc.raw); got != tc.want {
				t.Fatalf("extractResultURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}
