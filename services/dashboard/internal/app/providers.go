package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finboard/pkg/ai"
	"finboard/pkg/market"
)

// GeneratorConfig selects the assistant backend.
type GeneratorConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// NewGenerator builds the configured text generator. It returns nil without
// an error when no API key is set, which leaves the assistant disabled.
func NewGenerator(ctx context.Context, cfg GeneratorConfig) (ai.TextGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		gen, err := ai.NewGeminiGenerator(ctx, ai.GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	case "openai":
		if cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("openai provider requires base URL and model")
		}
		return ai.NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// MarketConfig configures the quote provider.
type MarketConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewMarketProvider builds the EODHD-backed provider, or returns nil without
// an error when no API key is set.
func NewMarketProvider(cfg MarketConfig) (market.Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	client, err := market.NewEODHDClient(market.EODHDConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
