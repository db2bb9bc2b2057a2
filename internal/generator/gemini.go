package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"vibestyler/internal/logging"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-pro"

// KeySource supplies the API key at call time.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// Config configures a Gemini generator.
type Config struct {
	Model      string
	BaseURL    string // empty uses the SDK default endpoint
	APIVersion string
	// Timeout bounds one generation call. Zero means no bound.
	Timeout time.Duration
	// MinInterval spaces consecutive calls. Zero disables spacing.
	MinInterval time.Duration
	HTTPClient  *http.Client
}

// Gemini generates text with the Gemini API.
type Gemini struct {
	cfg     Config
	keys    KeySource
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGemini creates a generator that reads its key from keys on every call.
func NewGemini(cfg Config, keys KeySource, logger *zap.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	g := &Gemini{
		cfg:     cfg,
		keys:    keys,
		logger:  logging.Or(logger, logging.CategoryGenerator),
		clients: make(map[string]*genai.Client),
	}
	if cfg.MinInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return g
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	key, err := g.keys.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}
	if key == "" {
		return "", ErrCredentialMissing
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for generator slot: %w", err)
		}
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	client, err := g.client(ctx, key)
	if err != nil {
		return "", err
	}

	timer := logging.StartTimer(logging.CategoryGenerator, "generate")
	resp, err := client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), nil)
	elapsed := timer.Stop()
	if err != nil {
		return "", g.callError(err)
	}
	text, err := candidateText(resp)
	if err != nil {
		return "", err
	}
	g.logger.Debug("generation complete",
		zap.String("model", g.cfg.Model),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("response_bytes", len(text)),
		zap.Duration("elapsed", elapsed))
	return text, nil
}

func (g *Gemini) client(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    g.cfg.BaseURL,
			APIVersion: g.cfg.APIVersion,
		},
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	// A key change replaces the cached client.
	g.clients = map[string]*genai.Client{key: c}
	return c, nil
}

func (g *Gemini) callError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Status: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &HTTPError{Status: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("generate content: %w", err)
}

// candidateText reads the first candidate part. Without one, a block reason
// is reported if the endpoint gave one.
func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrMalformedResponse
	}
	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		if c != nil && c.Content != nil && len(c.Content.Parts) > 0 && c.Content.Parts[0] != nil {
			return c.Content.Parts[0].Text, nil
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &BlockedError{Reason: string(resp.PromptFeedback.BlockReason)}
	}
	return "", ErrMalformedResponse
}
