package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aha/internal/config"
)

// ErrNoProvider is returned when no text-generation provider is configured.
var ErrNoProvider = errors.New("no text-generation provider configured")

// Request carries one prompt and its sampling parameters.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Provider generates free text for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Chain holds the configured providers in priority order. Only the first is
// ever called; the rest document what would take over if it were removed.
type Chain struct {
	providers []Provider
	timeout   time.Duration
}

// NewChain builds a chain from providers, skipping nil entries.
func NewChain(timeout time.Duration, providers ...Provider) *Chain {
	c := &Chain{timeout: timeout}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Names lists the configured providers in priority order.
func (c *Chain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate invokes the first provider. It returns the provider name alongside
// the text so callers can attribute the result.
func (c *Chain) Generate(ctx context.Context, req Request) (string, string, error) {
	if c == nil || len(c.providers) == 0 {
		return "", "", ErrNoProvider
	}
	p := c.providers[0]
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	text, err := p.Generate(ctx, req)
	if err != nil {
		return "", p.Name(), fmt.Errorf("%s: %w", p.Name(), err)
	}
	return text, p.Name(), nil
}

// FromConfig constructs every provider that has credentials, ordered by
// cfg.Order. Unknown names are logged and skipped. An empty chain is valid;
// it surfaces as ErrNoProvider at call time.
func FromConfig(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var providers []Provider
	for _, name := range cfg.Order {
		name = strings.ToLower(strings.TrimSpace(name))
		var (
			p   Provider
			err error
		)
		switch name {
		case "openai":
			if cfg.OpenAI.APIKey != "" {
				p = NewOpenAIProvider(cfg.OpenAI)
			}
		case "anthropic":
			if cfg.Anthropic.APIKey != "" {
				p = NewAnthropicProvider(cfg.Anthropic)
			}
		case "gemini":
			if cfg.Gemini.APIKey != "" {
				p, err = NewGeminiProvider(ctx, cfg.Gemini)
			}
		default:
			logger.Warn("unknown llm provider in order", slog.String("provider", name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("init %s provider: %w", name, err)
		}
		if p == nil {
			logger.Debug("llm provider not configured", slog.String("provider", name))
			continue
		}
		providers = append(providers, p)
	}

	chain := NewChain(cfg.Timeout, providers...)
	if len(chain.providers) == 0 {
		logger.Warn("no llm provider configured; diagnoses will use the fallback result")
	} else {
		logger.Info("llm providers configured", slog.Any("order", chain.Names()))
	}
	return chain, nil
}
