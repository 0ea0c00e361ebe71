package domain

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single observed market price for a symbol. Timestamp is the
// market time reported by the source and can be hours old outside trading
// hours; FetchedAt is when this process obtained the quote.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
	FetchedAt time.Time
	Source    string
}

// PriceSource fetches the latest price for a symbol from an upstream market
// data provider.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Name() string
}

// OptionContract is a parsed OSI option symbol.
type OptionContract struct {
	Root   string
	Expiry time.Time
	Right  string // "C" or "P"
	Strike decimal.Decimal
}

// osiPattern matches OSI symbols with or without the space padding of the
// root, e.g. "AAPL250117C00150000" or "AAPL  250117C00150000".
var osiPattern = regexp.MustCompile(`^([A-Z]{1,6})\s*(\d{6})([CP])(\d{8})$`)

// ParseOptionSymbol parses an OSI option ticker. ok is false for anything
// that is not an option symbol.
func ParseOptionSymbol(symbol string) (OptionContract, bool) {
	m := osiPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(symbol)))
	if m == nil {
		return OptionContract{}, false
	}
	expiry, err := time.Parse("060102", m[2])
	if err != nil {
		return OptionContract{}, false
	}
	strike, err := decimal.NewFromString(m[4])
	if err != nil {
		return OptionContract{}, false
	}
	return OptionContract{
		Root:   m[1],
		Expiry: expiry,
		Right:  m[3],
		Strike: strike.Shift(-3),
	}, true
}

// NormalizeSymbol upper-cases a ticker and strips OSI root padding.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if c, ok := ParseOptionSymbol(s); ok {
		return c.Root + s[len(s)-15:]
	}
	return s
}

// AssetTypeOf classifies a ticker as an option or a stock.
func AssetTypeOf(symbol string) AssetType {
	if _, ok := ParseOptionSymbol(symbol); ok {
		return AssetTypeOption
	}
	return AssetTypeStock
}
