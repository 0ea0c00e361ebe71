package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// DefaultJournalDepth is the number of records kept per position when no
// depth is given.
const DefaultJournalDepth = 500

// EvaluationJournal keeps the most recent evaluations per position. It is
// wired when no ClickHouse DSN is configured.
type EvaluationJournal struct {
	mu    sync.RWMutex
	depth int
	recs  map[string][]domain.EvaluationRecord
}

// NewEvaluationJournal creates a journal holding up to depth records per
// position.
func NewEvaluationJournal(depth int) *EvaluationJournal {
	if depth <= 0 {
		depth = DefaultJournalDepth
	}
	return &EvaluationJournal{depth: depth, recs: make(map[string][]domain.EvaluationRecord)}
}

var _ domain.EvaluationJournal = (*EvaluationJournal)(nil)

// Record appends rec, evicting the oldest record for the position when full.
func (j *EvaluationJournal) Record(_ context.Context, rec domain.EvaluationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	list := append(j.recs[rec.PositionID], rec)
	if len(list) > j.depth {
		list = list[len(list)-j.depth:]
	}
	j.recs[rec.PositionID] = list
	return nil
}

// ListByPosition returns records newest first. limit <= 0 returns all.
func (j *EvaluationJournal) ListByPosition(_ context.Context, positionID string, limit int) ([]domain.EvaluationRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	list := j.recs[positionID]
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.EvaluationRecord, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
