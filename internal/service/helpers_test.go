package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	cachemem "github.com/alanyoungcy/exitguard/internal/cache/memory"
	"github.com/alanyoungcy/exitguard/internal/domain"
	storemem "github.com/alanyoungcy/exitguard/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves prices from a map and counts calls per symbol.
type fakeSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fail   map[string]error
	calls  map[string]int

	// marketTime, when set, is reported as the quote timestamp.
	marketTime time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prices: make(map[string]decimal.Decimal),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = dec(price)
	delete(f.fail, symbol)
}

func (f *fakeSource) failWith(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[symbol] = err
}

func (f *fakeSource) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.fail[symbol]; err != nil {
		return domain.Quote{}, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	ts := f.marketTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return domain.Quote{Symbol: symbol, Price: p, Timestamp: ts, Source: "fake"}, nil
}

func (f *fakeSource) Name() string { return "fake" }

// recordingNotifier captures alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.titles = append(n.titles, title)
	return nil
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type harness struct {
	store    *storemem.PositionStore
	audit    *storemem.AuditStore
	journal  *storemem.EvaluationJournal
	cache    *cachemem.PriceCache
	locks    *cachemem.LockManager
	bus      *cachemem.SignalBus
	source   *fakeSource
	notifier *recordingNotifier

	positions *PositionService
	prices    *PriceService
	monitor   *Monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    storemem.NewPositionStore(),
		audit:    storemem.NewAuditStore(),
		journal:  storemem.NewEvaluationJournal(0),
		cache:    cachemem.NewPriceCache(),
		locks:    cachemem.NewLockManager(),
		bus:      cachemem.NewSignalBus(),
		source:   newFakeSource(),
		notifier: &recordingNotifier{},
	}
	log := testLogger()
	h.positions = NewPositionService(h.store, h.audit, h.bus, h.notifier, log)
	h.prices = NewPriceService(h.source, h.cache, cachemem.NewRateLimiter(), h.bus, 1000, time.Second, log)
	h.monitor = NewMonitor(h.positions, h.prices, h.locks, h.journal, h.notifier, MonitorConfig{
		Interval:    10 * time.Millisecond,
		Concurrency: 4,
		LockTTL:     time.Minute,
	}, log)
	return h
}

func (h *harness) open(t *testing.T, req OpenRequest) domain.Position {
	t.Helper()
	if req.Quantity.IsZero() {
		req.Quantity = decimal.NewFromInt(10)
	}
	pos, err := h.positions.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

var errUpstream = errors.New("upstream down")
