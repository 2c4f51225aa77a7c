// Package search answers questions from live web results: it queries
// the DuckDuckGo HTML endpoint, pulls content from the top pages, and
// has the LLM compose a cited answer from those sources.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/wamorph/llm"
)

const systemPrompt = `You are a helpful assistant that answers questions based on web search results.

Rules:
1. Answer the user's question using ONLY the provided search results.
2. Be concise but comprehensive.
3. Always cite sources inline using [1], [2], etc.
4. If the results conflict, mention both perspectives.
5. If the results don't contain enough information, say so.
6. Respond in the same language as the question.
7. Do not invent information that is not in the sources.

Start with a direct answer, then details with citations. Keep it under 500 words.`

const (
	defaultBaseURL    = "https://html.duckduckgo.com"
	defaultMaxResults = 5
	defaultMaxFetch   = 3
	defaultTimeout    = 15 * time.Second

	// Per-page content cap; pages shorter than minPageChars after
	// cleanup are treated as empty.
	maxPageChars = 1000
	minPageChars = 100

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type Options struct {
	LLM   llm.Client
	Model string

	// BaseURL overrides the search endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
	MaxResults int
	Logger     *slog.Logger
}

type Service struct {
	llm        llm.Client
	model      string
	baseURL    string
	http       *http.Client
	maxResults int
	logger     *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		llm:        opts.LLM,
		model:      opts.Model,
		baseURL:    baseURL,
		http:       httpClient,
		maxResults: maxResults,
		logger:     logger,
	}, nil
}

type result struct {
	title   string
	url     string
	snippet string
}

var (
	linkRe    = regexp.MustCompile(`(?s)<a rel="nofollow" class="result__a" href="([^"]+)"[^>]*>(.+?)</a>`)
	snippetRe = regexp.MustCompile(`(?s)<a class="result__snippet"[^>]*>(.+?)</a>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`\s+`)

	stripRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`),
		regexp.MustCompile(`(?is)<footer[^>]*>.*?</footer>`),
		regexp.MustCompile(`(?is)<header[^>]*>.*?</header>`),
		regexp.MustCompile(`(?is)<aside[^>]*>.*?</aside>`),
		regexp.MustCompile(`(?s)<!--.*?-->`),
	}
	paragraphRe = regexp.MustCompile(`(?is)<(?:p|article|main|h[1-6])[^>]*>(.*?)</(?:p|article|main|h[1-6])>`)
)

// SearchAndSummarize answers the query from web results. When the LLM
// call fails the raw result list is returned instead, so the user still
// gets the links.
func (s *Service) SearchAndSummarize(ctx context.Context, query string) (string, error) {
	results, err := s.search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s\n\nTry different keywords or a simpler query.", query), nil
	}

	pages := s.fetchPages(ctx, results)

	var sources strings.Builder
	var sourceList strings.Builder
	for i, r := range results {
		content := pages[r.url]
		if content == "" {
			content = r.snippet
		}
		fmt.Fprintf(&sources, "[%d] %s\nURL: %s\nContent: %s\n---\n", i+1, r.title, r.url, content)
		fmt.Fprintf(&sourceList, "[%d] %s\n%s\n", i+1, r.title, r.url)
	}

	prompt := fmt.Sprintf("User question: %s\n\nSearch results:\n%s\nBased on these search results, answer the user's question. Remember to cite sources using [1], [2] etc.", query, sources.String())
	res, err := s.llm.Chat(ctx, llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		s.logger.Warn("search_summarize_error", "error", err.Error())
		return formatPlainResults(query, results), nil
	}

	return fmt.Sprintf("*%s*\n\n%s\n\nSources:\n%s", query, res.Text, strings.TrimRight(sourceList.String(), "\n")), nil
}

func (s *Service) search(ctx context.Context, query string) ([]result, error) {
	u := fmt.Sprintf("%s/html/?q=%s", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	html := string(body)
	links := linkRe.FindAllStringSubmatch(html, -1)
	snippets := snippetRe.FindAllStringSubmatch(html, -1)

	results := make([]result, 0, s.maxResults)
	for i, m := range links {
		if len(results) >= s.maxResults {
			break
		}
		target := extractResultURL(m[1])
		if target == "" {
			continue
		}
		snippet := ""
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
			if len(snippet) > 300 {
				snippet = snippet[:300]
			}
		}
		results = append(results, result{
			title:   cleanHTML(m[2]),
			url:     target,
			snippet: snippet,
		})
	}
	s.logger.Debug("search_results", "query", query, "count", len(results))
	return results, nil
}

// extractResultURL unwraps the redirect links the result page uses
// ("//duckduckgo.com/l/?uddg=<escaped url>&..."); direct URLs pass
// through.
func extractResultURL(raw string) string {
	// href attributes arrive entity-escaped.
	raw = strings.ReplaceAll(raw, "&amp;", "&")
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if i := strings.Index(raw, "?"); i >= 0 {
		q, err := url.ParseQuery(raw[i+1:])
		if err == nil {
			if target := q.Get("uddg"); strings.HasPrefix(target, "http") {
				return target
			}
		}
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return ""
}

func (s *Service) fetchPages(ctx context.Context, results []result) map[string]string {
	sem := make(chan struct{}, defaultMaxFetch)
	var mu sync.Mutex
	var wg sync.WaitGroup
	pages := make(map[string]string, len(results))

	for _, r := range results {
		wg.Add(1)
		go func(pageURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			content, err := s.fetchPage(ctx, pageURL)
			if err != nil {
				s.logger.Debug("search_fetch_error", "url", pageURL, "error", err.Error())
				return
			}
			if content == "" {
				return
			}
			mu.Lock()
			pages[pageURL] = content
			mu.Unlock()
		}(r.url)
	}
	wg.Wait()
	return pages
}

func (s *Service) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	html := string(body)
	for _, re := range stripRes {
		html = re.ReplaceAllString(html, "")
	}
	var text string
	if paragraphs := paragraphRe.FindAllStringSubmatch(html, -1); len(paragraphs) > 0 {
		parts := make([]string, 0, len(paragraphs))
		for _, p := range paragraphs {
			parts = append(parts, p[1])
		}
		text = strings.Join(parts, " ")
	} else {
		text = html
	}
	text = cleanHTML(text)
	if len(text) > maxPageChars {
		text = text[:maxPageChars] + "..."
	}
	if len(text) < minPageChars {
		return "", nil
	}
	return text, nil
}

func cleanHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func formatPlainResults(query string, results []result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Results for: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, r.title)
		if r.snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.snippet)
		}
		fmt.Fprintf(&b, "   %s\n", r.url)
	}
	return b.String()
}
