// Package market fetches stock quotes for the dashboard watchlist.
package market

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Quote is a point-in-time snapshot of one symbol.
type Quote struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	DayChangePct decimal.Decimal `json:"dayChangePct"`
	Volume       int64           `json:"volume"`
	High52w      decimal.Decimal `json:"high52w"`
	Low52w       decimal.Decimal `json:"low52w"`
	AsOf         time.Time       `json:"asOf"`
}

// Provider fetches quotes from an upstream market data source. Nothing is cached.
type Provider interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

type ErrorKind string

const (
	KindInvalidSymbol ErrorKind = "invalid_symbol"
	KindNotFound      ErrorKind = "not_found"
	KindUnavailable   ErrorKind = "unavailable"
)

// Error is the typed failure of a quote fetch.
type Error struct {
	Symbol string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("quote %s: %s", e.Symbol, e.Kind)
	}
	return fmt.Sprintf("quote %s: %s: %v", e.Symbol, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a market error, or KindUnavailable for any
// other error.
func KindOf(err error) ErrorKind {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return KindUnavailable
}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9^][A-Za-z0-9.\-=^]{0,19}$`)

// NormalizeSymbol upper-cases and validates a ticker symbol.
func NormalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(symbol) {
		return "", &Error{Symbol: symbol, Kind: KindInvalidSymbol}
	}
	return symbol, nil
}

// Result pairs a requested symbol with its quote or failure.
type Result struct {
	Symbol string `json:"symbol"`
	Quote  *Quote `json:"quote,omitempty"`
	Err    error  `json:"-"`
}

const maxConcurrentFetches = 4

// Quotes fetches every symbol concurrently. Results keep the input order and
// one failing symbol never hides the others.
func Quotes(ctx context.Context, p Provider, symbols []string) []Result {
	results := make([]Result, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, symbol := range symbols {
		g.Go(func() error {
			results[i].Symbol = symbol
			q, err := p.FetchQuote(gctx, symbol)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Quote = &q
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Index is a broad market index shown on the overview.
type Index struct {
	Name   string
	Symbol string
}

// DefaultIndices are the major US indices, in EODHD notation.
var DefaultIndices = []Index{
	{Name: "S&P 500", Symbol: "GSPC.INDX"},
	{Name: "NASDAQ", Symbol: "IXIC.INDX"},
	{Name: "Dow Jones", Symbol: "DJI.INDX"},
	{Name: "Russell 2000", Symbol: "RUT.INDX"},
}

// IndexQuote is an overview entry.
type IndexQuote struct {
	Name string `json:"name"`
	Result
}

// Overview fetches the given indices concurrently.
func Overview(ctx context.Context, p Provider, indices []Index) []IndexQuote {
	symbols := make([]string, len(indices))
	for i, idx := range indices {
		symbols[i] = idx.Symbol
	}
	results := Quotes(ctx, p, symbols)
	out := make([]IndexQuote, len(indices))
	for i, res := range results {
		out[i] = IndexQuote{Name: indices[i].Name, Result: res}
	}
	return out
}
