package limiters

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	Record
	touched time.Time
}

// MemoryLedger is an in-process Ledger. A missing key is a fresh record.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[Key]memoryRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[Key]memoryRecord)}
}

func (l *MemoryLedger) Get(_ context.Context, key Key, now time.Time) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.records[key]
	if !ok {
		return Record{}, nil
	}
	r := Normalize(m.Record, now)
	// Reads do not count as activity.
	l.store(key, r, m.touched)
	return r, nil
}

func (l *MemoryLedger) RecordFailure(_ context.Context, key Key, policy Policy, now time.Time) (Record, FailureOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, outcome := ApplyFailure(l.records[key].Record, policy, now)
	l.store(key, r, now)
	return r, outcome, nil
}

func (l *MemoryLedger) RecordSuccess(_ context.Context, key Key, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := ApplySuccess(l.records[key].Record, now)
	if err != nil {
		return err
	}
	l.store(key, r, now)
	return nil
}

func (l *MemoryLedger) ResetFailures(_ context.Context, key Key, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.records[key]
	if !ok {
		return nil
	}
	r := Normalize(m.Record, now)
	r.FailCount = 0
	l.store(key, r, now)
	return nil
}

// Prune drops records last written before cutoff. A record whose lockout
// is still running at now is kept regardless of age.
func (l *MemoryLedger) Prune(_ context.Context, now, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for k, m := range l.records {
		if m.touched.Before(cutoff) && !m.Locked(now) {
			delete(l.records, k)
			n++
		}
	}
	return n, nil
}

// Len reports how many keys currently hold state.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// store keeps the map free of zero records. Caller holds mu.
func (l *MemoryLedger) store(key Key, r Record, touched time.Time) {
	if r.FailCount == 0 && r.LockedUntil.IsZero() {
		delete(l.records, key)
		return
	}
	l.records[key] = memoryRecord{Record: r, touched: touched}
}
