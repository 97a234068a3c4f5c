package app

import "errors"

var (
	// ErrAssistantUnavailable is returned when no generator is configured or
	// the provider failed. The user turn is already stored at that point.
	ErrAssistantUnavailable = errors.New("assistant unavailable")

	ErrMarketUnavailable = errors.New("market data unavailable")
)
