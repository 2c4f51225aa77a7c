// Package imagegen turns a text description into a Pollinations image
// URL. The LLM first rewrites the description into a detailed English
// prompt; generation itself is a GET against the Pollinations endpoint,
// verified before the URL is handed to the gateway.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quailyquaily/wamorph/llm"
)

const enhanceSystemPrompt = `You are an expert at writing prompts for AI image generation.
Rewrite the user's description into a detailed English prompt for an image model.

Rules:
1. Keep the core subject and intent of the original description.
2. Add concrete details: style, lighting, composition, mood.
3. Output a single prompt in English, under 100 words.
4. Output ONLY the prompt, no explanations or quotes.`

const (
	defaultBaseURL = "https://image.pollinations.ai"
	defaultModel   = "flux"
	defaultWidth   = 1024
	defaultHeight  = 1024
	defaultTimeout = 60 * time.Second

	// Anything smaller than this is an error page, not an image.
	minImageBytes = 1000
)

type Options struct {
	// LLM rewrites prompts when Enhance is set; generation works without
	// it.
	LLM      llm.Client
	LLMModel string
	Enhance  bool

	// BaseURL overrides the image endpoint, mainly for tests.
	BaseURL    string
	Model      string
	Width      int
	Height     int
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Seed overrides seed selection in tests.
	Seed func() int
}

type Service struct {
	llm      llm.Client
	llmModel string
	enhance  bool

	baseURL string
	model   string
	width   int
	height  int
	http    *http.Client
	logger  *slog.Logger
	seed    func() int
}

func New(opts Options) (*Service, error) {
	if opts.Enhance && opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required when prompt enhancement is on")
	}
	if opts.Enhance && strings.TrimSpace(opts.LLMModel) == "" {
		return nil, fmt.Errorf("llm model is required when prompt enhancement is on")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seed := opts.Seed
	if seed == nil {
		seed = func() int { return rand.Intn(1_000_000) }
	}
	return &Service{
		llm:      opts.LLM,
		llmModel: opts.LLMModel,
		enhance:  opts.Enhance,
		baseURL:  baseURL,
		model:    model,
		width:    width,
		height:   height,
		http:     httpClient,
		logger:   logger,
		seed:     seed,
	}, nil
}

// Image is one verified generation result.
type Image struct {
	URL    string
	Prompt string
	Seed   int
}

// Generate builds and verifies an image for the description. The
// returned URL serves the finished image and can be sent as a file
// directly.
func (s *Service) Generate(ctx context.Context, description string) (Image, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Image{}, fmt.Errorf("description is required")
	}

	prompt := description
	if s.enhance {
		enhanced, err := s.enhancePrompt(ctx, description)
		if err != nil {
			// Generation still works with the raw description.
			s.logger.Warn("imagegen_enhance_error", "error", err.Error())
		} else if enhanced != "" {
			prompt = enhanced
		}
	}

	seed := s.seed()
	imageURL := fmt.Sprintf("%s/prompt/%s?width=%d&height=%d&model=%s&seed=%d&nologo=true",
		s.baseURL, url.PathEscape(prompt), s.width, s.height, s.model, seed)

	if err := s.verify(ctx, imageURL); err != nil {
		return Image{}, fmt.Errorf("verify generated image: %w", err)
	}
	s.logger.Debug("imagegen_generated", "seed", seed, "prompt_len", len(prompt))
	return Image{URL: imageURL, Prompt: prompt, Seed: seed}, nil
}

func (s *Service) enhancePrompt(ctx context.Context, description string) (string, error) {
	res, err := s.llm.Chat(ctx, llm.Request{
		Model: s.llmModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: enhanceSystemPrompt},
			{Role: llm.RoleUser, Content: description},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(res.Text), `"'`), nil
}

// verify fetches the URL once; the endpoint renders on first request,
// so this both warms the image and confirms it exists before the URL is
// passed along.
func (s *Service) verify(ctx context.Context, imageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "image") {
		return fmt.Errorf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(data) < minImageBytes {
		return fmt.Errorf("response too small (%d bytes)", len(data))
	}
	return nil
}
