// Package yahoo is a price source backed by the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

const (
	// DefaultBaseURL is the public chart API host.
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultUserAgent = "Mozilla/5.0"
	sourceName       = "yahoo"
	maxErrorBody     = 512
)

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client implements domain.PriceSource for equities and OSI option tickers.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a chart API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

var _ domain.PriceSource = (*Client)(nil)

// Name identifies the source in quotes and rate-limit keys.
func (c *Client) Name() string { return sourceName }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string           `json:"symbol"`
		RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
		RegularMarketTime  int64            `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []decimal.NullDecimal `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Quote returns the latest price for symbol. The live market price is
// preferred; when it is missing or zero the last non-null close is used.
// domain.ErrNotFound is returned when neither exists.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	ticker := domain.NormalizeSymbol(symbol)
	if ticker == "" {
		return domain.Quote{}, fmt.Errorf("yahoo: empty symbol: %w", domain.ErrNotFound)
	}

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "5d")
	path := "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + params.Encode()

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("yahoo: quote %s: %w", ticker, err)
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("yahoo: decode %s: %w", ticker, err)
	}
	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return domain.Quote{}, fmt.Errorf("yahoo: %s: %s: %w", ticker, resp.Chart.Error.Description, domain.ErrNotFound)
		}
		return domain.Quote{}, fmt.Errorf("yahoo: %s: api error %s: %s", ticker, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return domain.Quote{}, fmt.Errorf("yahoo: %s: no result: %w", ticker, domain.ErrNotFound)
	}

	price, ts, ok := latestPrice(resp.Chart.Result[0])
	if !ok {
		return domain.Quote{}, fmt.Errorf("yahoo: %s: no price: %w", ticker, domain.ErrNotFound)
	}

	return domain.Quote{
		Symbol:    ticker,
		Price:     price,
		Timestamp: ts,
		Source:    sourceName,
	}, nil
}

// latestPrice picks the live price, falling back to the most recent close.
func latestPrice(r chartResult) (decimal.Decimal, time.Time, bool) {
	if p := r.Meta.RegularMarketPrice; p != nil && p.IsPositive() {
		ts := time.Now().UTC()
		if r.Meta.RegularMarketTime > 0 {
			ts = time.Unix(r.Meta.RegularMarketTime, 0).UTC()
		}
		return *p, ts, true
	}

	if len(r.Indicators.Quote) == 0 {
		return decimal.Zero, time.Time{}, false
	}
	closes := r.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if !closes[i].Valid || !closes[i].Decimal.IsPositive() {
			continue
		}
		ts := time.Now().UTC()
		if i < len(r.Timestamp) {
			ts = time.Unix(r.Timestamp[i], 0).UTC()
		}
		return closes[i].Decimal, ts, true
	}
	return decimal.Zero, time.Time{}, false
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The chart API reports unknown tickers as 404 with a JSON error body.
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
