package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger for development and tests. Each
// idempotency key produces exactly one settlement effect
type MemoryLedger struct {
	mu       sync.Mutex
	entries  map[common.Hash]*memoryEntry
	calls    int
	fallback Outcome
}

type memoryEntry struct {
	handle  Handle
	request Request
	script  []Outcome
	polls   int
}

// NewMemoryLedger returns a ledger that confirms every settlement on the first poll
// unless outcomes were scripted with Script
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries:  make(map[common.Hash]*memoryEntry),
		fallback: Confirmed(""),
	}
}

func (l *MemoryLedger) Submit(ctx context.Context, req Request) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if e, ok := l.entries[req.IdempotencyKey]; ok && e.handle.Ref != "" {
		return e.handle, nil
	}

	h := Handle{
		ContractID:     req.ContractID,
		IdempotencyKey: req.IdempotencyKey,
		Ref:            "mem-" + uuid.NewString(),
	}
	e := l.entryLocked(req.IdempotencyKey)
	e.handle = h
	e.request = req
	return h, nil
}

func (l *MemoryLedger) PollStatus(ctx context.Context, h Handle) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[h.IdempotencyKey]
	if !ok || e.handle.Ref == "" {
		return Outcome{}, fmt.Errorf("unknown settlement %s", h.Ref)
	}
	e.polls++

	outcome := l.fallback
	if len(e.script) > 0 {
		outcome = e.script[0]
		e.script = e.script[1:]
	}
	if outcome.Kind == OutcomeConfirmed && outcome.SettlementRef == "" {
		outcome.SettlementRef = e.handle.Ref
	}
	return outcome, nil
}

// Script queues outcomes returned by successive polls of the settlement with key
func (l *MemoryLedger) Script(key common.Hash, outcomes ...Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryLocked(key)
	e.script = append(e.script, outcomes...)
}

// Effects returns the number of distinct settlements applied
func (l *MemoryLedger) Effects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.handle.Ref != "" {
			n++
		}
	}
	return n
}

// Calls returns the number of Submit calls, including deduplicated ones
func (l *MemoryLedger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *MemoryLedger) Request(key common.Hash) (Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.handle.Ref == "" {
		return Request{}, false
	}
	return e.request, true
}

func (l *MemoryLedger) entryLocked(key common.Hash) *memoryEntry {
	e, ok := l.entries[key]
	if !ok {
		e = &memoryEntry{}
		l.entries[key] = e
	}
	return e
}
