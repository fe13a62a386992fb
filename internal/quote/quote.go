// Package quote holds the value types shared between the fetcher and the
// ranking engine: exchanges, normalized symbols and resolved quotes.
package quote

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the listing exchange of a symbol.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// Suffix is the provider-specific symbol suffix for the exchange.
func (e Exchange) Suffix() string {
	switch e {
	case NSE:
		return ".NS"
	case BSE:
		return ".BO"
	}
	return ""
}

// Valid reports whether e is a known exchange.
func (e Exchange) Valid() bool { return e == NSE || e == BSE }

// ParseExchange parses a case-insensitive exchange name.
func ParseExchange(s string) (Exchange, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NSE":
		return NSE, nil
	case "BSE":
		return BSE, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExchange, s)
}

var (
	// ErrInvalidSymbol means the input failed the allowed-character pattern.
	// Callers should re-prompt; the fetcher never retries it.
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrInvalidExchange means the exchange is not NSE or BSE.
	ErrInvalidExchange = errors.New("invalid exchange")
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9&-]+$`)

// NormalizeSymbol trims and upper-cases a symbol and validates it against the
// allowed pattern. "reliance" and "RELIANCE" normalize to the same key.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" || !symbolPattern.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// Quote is a resolved price for a symbol on an exchange at a point in time.
// Immutable once constructed; it is folded into the cache and handed to the
// caller, never persisted directly.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// QuoteUnavailableError is the terminal fetch failure: every configured route
// was tried and none produced a usable price.
type QuoteUnavailableError struct {
	Symbol   string
	Exchange Exchange
	Attempts int
	Last     error
}

func (e *QuoteUnavailableError) Error() string {
	return fmt.Sprintf("quote unavailable for %s on %s after %d attempts (try again shortly): %v",
		e.Symbol, e.Exchange, e.Attempts, e.Last)
}

func (e *QuoteUnavailableError) Unwrap() error { return e.Last }
