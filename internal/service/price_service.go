package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// PriceService fetches quotes from the upstream source under a shared rate
// limit, caches them and announces them on the prices channel.
type PriceService struct {
	source     domain.PriceSource
	cache      domain.PriceCache
	limiter    domain.RateLimiter
	bus        domain.SignalBus
	rateLimit  int
	rateWindow time.Duration
	logger     *slog.Logger
}

// NewPriceService creates a PriceService. rateLimit requests are allowed per
// rateWindow across every process sharing the limiter.
func NewPriceService(
	source domain.PriceSource,
	cache domain.PriceCache,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	rateLimit int,
	rateWindow time.Duration,
	logger *slog.Logger,
) *PriceService {
	if rateLimit < 1 {
		rateLimit = 60
	}
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	return &PriceService{
		source:     source,
		cache:      cache,
		limiter:    limiter,
		bus:        bus,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
		logger:     logger.With(slog.String("component", "price_service")),
	}
}

// Refresh fetches a fresh quote for symbol and writes it through to the cache.
func (s *PriceService) Refresh(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := s.limiter.Wait(ctx, "quotes:"+s.source.Name(), s.rateLimit, s.rateWindow); err != nil {
		return domain.Quote{}, fmt.Errorf("price_service: wait for quote slot: %w", err)
	}

	q, err := s.source.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("price_service: quote %q: %w", symbol, err)
	}
	q.FetchedAt = time.Now().UTC()
	if q.Timestamp.IsZero() {
		q.Timestamp = q.FetchedAt
	}

	// Cache freshness is measured from the fetch, not the market time.
	if err := s.cache.SetPrice(ctx, symbol, q.Price, q.FetchedAt); err != nil {
		s.logger.WarnContext(ctx, "price_service: cache price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":      "price_update",
		"symbol":     symbol,
		"price":      q.Price.String(),
		"source":     q.Source,
		"timestamp":  q.Timestamp.Format(time.RFC3339Nano),
		"fetched_at": q.FetchedAt.Format(time.RFC3339Nano),
	})
	if pubErr := s.bus.Publish(ctx, domain.ChannelPrices, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "price_service: publish price update failed",
			slog.String("symbol", symbol),
			slog.String("error", pubErr.Error()),
		)
	}

	return q, nil
}

// Current returns the cached price for symbol when it was fetched less than
// maxAge ago and refreshes it otherwise. A zero maxAge always refreshes. If the refresh
// fails while an older cached price exists, the error wraps
// domain.ErrStalePrice.
func (s *PriceService) Current(ctx context.Context, symbol string, maxAge time.Duration) (domain.Quote, error) {
	price, ts, cacheErr := s.cache.GetPrice(ctx, symbol)
	cached := cacheErr == nil
	if cacheErr != nil && !errors.Is(cacheErr, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "price_service: read cached price failed",
			slog.String("symbol", symbol),
			slog.String("error", cacheErr.Error()),
		)
	}

	if cached && maxAge > 0 && time.Since(ts) < maxAge {
		return domain.Quote{Symbol: symbol, Price: price, Timestamp: ts, FetchedAt: ts, Source: "cache"}, nil
	}

	q, err := s.Refresh(ctx, symbol)
	if err != nil {
		if cached {
			return domain.Quote{}, fmt.Errorf("price_service: %q last priced %s ago: %w (%w)",
				symbol, time.Since(ts).Round(time.Second), domain.ErrStalePrice, err)
		}
		return domain.Quote{}, err
	}
	return q, nil
}
