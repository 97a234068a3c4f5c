package app

import (
	"context"
	"fmt"
	"strings"

	"finboard/pkg/domain"
	"finboard/pkg/market"
	"finboard/pkg/session"
)

const maxQuoteSymbols = 20

// QuoteResult is one watchlist entry. Error is set instead of Quote when the
// symbol could not be priced.
type QuoteResult struct {
	Symbol string           `json:"symbol"`
	Name   string           `json:"name,omitempty"`
	Quote  *market.Quote    `json:"quote,omitempty"`
	Error  market.ErrorKind `json:"error,omitempty"`
}

// Quotes prices symbols, or the configured watchlist when none are given.
// Results keep the request order; duplicates are dropped.
func (a *App) Quotes(ctx context.Context, sess *session.Session, symbols []string) ([]QuoteResult, error) {
	if _, err := sess.Require(); err != nil {
		return nil, err
	}
	if a.market == nil {
		return nil, ErrMarketUnavailable
	}
	if len(symbols) == 0 {
		symbols = a.watchlist
	}
	if len(symbols) == 0 {
		return nil, domain.Invalid("symbols", "is required")
	}

	seen := make(map[string]bool, len(symbols))
	out := make([]QuoteResult, 0, len(symbols))
	var fetch []string
	var fetchIdx []int
	for _, raw := range symbols {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		symbol, err := market.NormalizeSymbol(raw)
		if err != nil {
			symbol = strings.ToUpper(strings.TrimSpace(raw))
		}
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		if err != nil {
			out = append(out, QuoteResult{Symbol: symbol, Error: market.KindOf(err)})
			continue
		}
		fetchIdx = append(fetchIdx, len(out))
		fetch = append(fetch, symbol)
		out = append(out, QuoteResult{Symbol: symbol})
	}
	if len(out) > maxQuoteSymbols {
		return nil, domain.Invalid("symbols", fmt.Sprintf("at most %d symbols per request", maxQuoteSymbols))
	}
	for i, res := range market.Quotes(ctx, a.market, fetch) {
		a.fill(&out[fetchIdx[i]], res)
	}
	return out, nil
}

// MarketOverview prices the major indices.
func (a *App) MarketOverview(ctx context.Context, sess *session.Session) ([]QuoteResult, error) {
	if _, err := sess.Require(); err != nil {
		return nil, err
	}
	if a.market == nil {
		return nil, ErrMarketUnavailable
	}
	overview := market.Overview(ctx, a.market, market.DefaultIndices)
	out := make([]QuoteResult, len(overview))
	for i, entry := range overview {
		out[i] = QuoteResult{Symbol: entry.Symbol, Name: entry.Name}
		a.fill(&out[i], entry.Result)
	}
	return out, nil
}

func (a *App) fill(dst *QuoteResult, res market.Result) {
	if res.Err != nil {
		dst.Error = market.KindOf(res.Err)
		if dst.Error == market.KindUnavailable {
			a.logger.Warn("quote_fetch_failed", "symbol", res.Symbol, "error", res.Err)
		}
		return
	}
	dst.Quote = res.Quote
}
