package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/deque"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// Resolution tells the caller what to do with the contract after an outcome.
// Event is empty when a retry was scheduled and the contract stays PendingSettlement
type Resolution struct {
	Event         contract.Event
	SettlementRef string
	Reason        string
	Attempt       int
	Handle        Handle // current handle when a retry was scheduled
	NextPollAt    time.Time
	Err           error // *contract.SettlementError when the settlement failed for good
}

// scheduled is a queue entry. Entries whose dueAt differs from the tracked one
// are stale and dropped by Due
type scheduled struct {
	handle Handle
	dueAt  time.Time
}

type Coordinator struct {
	// config
	policy RetryPolicy

	// state
	mu      sync.Mutex
	keys    *lib.KeyedMutex // serializes submissions per idempotency key
	handles map[common.Hash]scheduled
	queue   *deque.Deque[scheduled]

	submitted *atomic.Int64
	confirmed *atomic.Int64
	failed    *atomic.Int64

	// deps
	ledger  Ledger
	limiter *rate.Limiter
	log     interfaces.ILogger
}

func NewCoordinator(ledger Ledger, policy RetryPolicy, limiter *rate.Limiter, log interfaces.ILogger) *Coordinator {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Coordinator{
		policy:    policy,
		keys:      lib.NewKeyedMutex(),
		handles:   make(map[common.Hash]scheduled),
		queue:     deque.New[scheduled](),
		submitted: atomic.NewInt64(0),
		confirmed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		ledger:    ledger,
		limiter:   limiter,
		log:       log,
	}
}

// Initiate submits the settlement of c and returns without waiting for finality.
// Calling it again for the same contract and document returns the existing handle
func (s *Coordinator) Initiate(ctx context.Context, c contract.Contract, now time.Time) (Handle, error) {
	req, err := BuildRequest(c)
	if err != nil {
		return Handle{}, err
	}

	unlock, err := s.keys.LockCtx(ctx, req.IdempotencyKey.Hex())
	if err != nil {
		return Handle{}, lib.WrapError(contract.ErrUnavailable, err)
	}
	defer unlock()

	s.mu.Lock()
	tracked, ok := s.handles[req.IdempotencyKey]
	s.mu.Unlock()
	if ok {
		s.log.Debugf("settlement of %s already initiated, ref %s", c.ID, tracked.handle.Ref)
		return tracked.handle, nil
	}

	h, err := s.submit(ctx, req)
	if err != nil {
		return Handle{}, err
	}
	if h.SubmittedAt.IsZero() {
		h.SubmittedAt = now
	}

	s.schedule(h, now.Add(s.policy.Backoff(1)))

	s.submitted.Inc()
	s.log.Infof("settlement of %s submitted, ref %s, total %s in %d payouts", c.ID, h.Ref, req.Total, len(req.Payouts))
	return h, nil
}

// Track schedules polling of a handle submitted earlier, used when recovering after
// restart or when an outcome could not be processed. It replaces any earlier schedule
func (s *Coordinator) Track(h Handle, dueAt time.Time) {
	s.schedule(h, dueAt)
}

func (s *Coordinator) schedule(h Handle, dueAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := scheduled{handle: h, dueAt: dueAt}
	s.handles[h.IdempotencyKey] = item
	s.queue.PushBack(item)
}

// OnConfirmation resolves an outcome reported for h. Inconclusive outcomes are
// retried with the same idempotency key until the retry policy is exhausted
func (s *Coordinator) OnConfirmation(ctx context.Context, c contract.Contract, h Handle, outcome Outcome, now time.Time) (Resolution, error) {
	switch outcome.Kind {
	case OutcomeConfirmed:
		if outcome.SettlementRef == "" {
			outcome.SettlementRef = h.Ref
		}
		s.Forget(h)
		s.confirmed.Inc()
		return Resolution{
			Event:         contract.EventSettlementConfirmed,
			SettlementRef: outcome.SettlementRef,
			Attempt:       c.SettlementAttempts,
		}, nil

	case OutcomeRejectedPermanently:
		s.Forget(h)
		s.failed.Inc()
		return Resolution{
			Event:   contract.EventSettlementFailed,
			Reason:  string(contract.SettlementReasonRejected),
			Attempt: c.SettlementAttempts,
			Err:     &contract.SettlementError{Reason: contract.SettlementReasonRejected, Detail: outcome.Reason},
		}, nil

	case OutcomeInconclusive:
		attempt := c.SettlementAttempts + 1
		if s.policy.Exhausted(attempt) {
			s.Forget(h)
			s.failed.Inc()
			s.log.Warnf("settlement of %s inconclusive after %d attempts, giving up", c.ID, attempt)
			return Resolution{
				Event:   contract.EventSettlementFailed,
				Reason:  string(contract.SettlementReasonTimeout),
				Attempt: attempt,
				Err:     &contract.SettlementError{Reason: contract.SettlementReasonTimeout, Detail: fmt.Sprintf("%d inconclusive attempts", attempt)},
			}, nil
		}

		// same idempotency key, the ledger will not apply it twice
		if req, err := BuildRequest(c); err == nil {
			if resubmitted, err := s.submit(ctx, req); err != nil {
				s.log.Warnf("resubmission of %s failed: %s", c.ID, err)
			} else if resubmitted.Ref != "" {
				h.Ref = resubmitted.Ref
			}
		}

		next := now.Add(s.policy.Backoff(attempt + 1))
		s.schedule(h, next)

		s.log.Infof("settlement of %s inconclusive (attempt %d/%d), next poll at %s", c.ID, attempt, s.policy.MaxAttempts, next.Format(time.RFC3339))
		return Resolution{Attempt: attempt, Handle: h, NextPollAt: next}, nil

	default:
		return Resolution{}, lib.WrapError(contract.ErrValidation, fmt.Errorf("unknown settlement outcome %q", outcome.Kind))
	}
}

// Due removes and returns handles whose poll time has come
func (s *Coordinator) Due(now time.Time) []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Handle
	for i, n := 0, s.queue.Len(); i < n; i++ {
		item := s.queue.PopFront()
		tracked, ok := s.handles[item.handle.IdempotencyKey]
		if !ok || !tracked.dueAt.Equal(item.dueAt) {
			continue // forgotten or rescheduled
		}
		if item.dueAt.After(now) {
			s.queue.PushBack(item)
			continue
		}
		due = append(due, item.handle)
	}
	return due
}

// Poll asks the ledger for the status of h. Errors talking to the ledger are inconclusive
func (s *Coordinator) Poll(ctx context.Context, h Handle) Outcome {
	outcome, err := s.ledger.PollStatus(ctx, h)
	if err != nil {
		s.log.Warnf("poll of settlement %s failed: %s", h.Ref, err)
		return Inconclusive()
	}
	return outcome
}

// Forget drops a handle, it will no longer be returned by Due
func (s *Coordinator) Forget(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h.IdempotencyKey)
}

func (s *Coordinator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

type Stats struct {
	Submitted int64 `json:"submitted"`
	Confirmed int64 `json:"confirmed"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

func (s *Coordinator) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Confirmed: s.confirmed.Load(),
		Failed:    s.failed.Load(),
		Pending:   s.Pending(),
	}
}

func (s *Coordinator) submit(ctx context.Context, req Request) (Handle, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Handle{}, lib.WrapError(contract.ErrUnavailable, err)
	}
	h, err := s.ledger.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return Handle{}, &contract.SettlementError{Reason: contract.SettlementReasonRejected, Detail: err.Error()}
		}
		return Handle{}, lib.WrapError(contract.ErrUnavailable, &contract.SettlementError{Reason: contract.SettlementReasonSubmit, Detail: err.Error()})
	}
	return h, nil
}
