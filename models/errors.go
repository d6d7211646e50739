package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means an upstream call failed: network, throttling or an empty response.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrRateLimited means the provider throttled the request. It also matches ErrDataUnavailable.
	ErrRateLimited = fmt.Errorf("%w: rate limited by provider", ErrDataUnavailable)

	// ErrStoreUnavailable means the durable bar store could not be reached.
	ErrStoreUnavailable = errors.New("bar store unavailable")

	// ErrInvalidPeriod is returned by NormalizePeriod for periods outside the supported set.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidSymbol is returned for an empty or malformed symbol.
	ErrInvalidSymbol = errors.New("invalid symbol")
)
