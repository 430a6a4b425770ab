package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/sm2"
	"github.com/conorfennell/recall/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNoCards       = errors.New("scheduler: card batch is empty")
	ErrDuplicateCard = errors.New("scheduler: card batch repeats a card id")
)

// Request is one schedule call for a session.
type Request struct {
	SessionID string
	PlanID    string
	Cards     []domain.Card
	// Prior seeds or overrides stored states, typically from a client-held copy.
	Prior []domain.MemoryState
	Now   time.Time
}

// Scheduler orders a batch of cards for review and persists the merged states.
type Scheduler struct {
	store  storage.Store
	locker storage.Locker
	logger *slog.Logger
}

// New creates a Scheduler.
func New(store storage.Store, locker storage.Locker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, locker: locker, logger: logger}
}

// Schedule merges stored and prior state, clamps overdue cards to req.Now,
// orders the batch by (due, card id) and writes the merged set back.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (domain.ScheduleResult, error) {
	ctx, span := otel.Tracer("recall/scheduler").Start(ctx, "Scheduler.Schedule", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("plan.id", req.PlanID),
		attribute.Int("cards.count", len(req.Cards)),
		attribute.Int("prior.count", len(req.Prior)),
	))
	defer span.End()

	if len(req.Cards) == 0 {
		return domain.ScheduleResult{}, ErrNoCards
	}
	batch := make(map[string]struct{}, len(req.Cards))
	for _, c := range req.Cards {
		if _, dup := batch[c.ID]; dup {
			return domain.ScheduleResult{}, fmt.Errorf("%w: %s", ErrDuplicateCard, c.ID)
		}
		batch[c.ID] = struct{}{}
	}

	ctx, unlock, err := s.locker.Lock(ctx, req.SessionID)
	if err != nil {
		span.RecordError(err)
		return domain.ScheduleResult{}, fmt.Errorf("failed to lock session %s: %w", req.SessionID, err)
	}
	defer unlock()

	snap, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		span.RecordError(err)
		return domain.ScheduleResult{}, err
	}

	states := make(map[string]domain.MemoryState)
	if snap != nil {
		for _, st := range snap.Items {
			states[st.CardID] = st
		}
	}
	// Prior states are the caller's most authoritative copy.
	for _, st := range req.Prior {
		states[st.CardID] = st.Clone()
	}
	for _, c := range req.Cards {
		if _, ok := states[c.ID]; !ok {
			states[c.ID] = domain.NewMemoryState(c.ID, req.Now)
		}
	}

	merged := make([]domain.MemoryState, 0, len(states))
	for id, st := range states {
		st = st.ClampForward(req.Now)
		states[id] = st
		merged = append(merged, st)
	}
	domain.SortStates(merged)

	due := make([]domain.MemoryState, 0, len(req.Cards))
	for _, c := range req.Cards {
		due = append(due, states[c.ID])
	}
	Order(due)

	if err := s.store.ReplaceAll(ctx, req.SessionID, merged); err != nil {
		span.RecordError(err)
		return domain.ScheduleResult{}, err
	}

	order := make([]string, len(due))
	for i, st := range due {
		order[i] = st.CardID
	}

	s.logger.Debug("session scheduled",
		"session_id", req.SessionID,
		"plan_id", req.PlanID,
		"cards", len(order),
		"stored", len(merged),
	)

	return domain.ScheduleResult{
		SessionID: req.SessionID,
		PlanID:    req.PlanID,
		Order:     order,
		Due:       req.Now,
		Meta:      domain.AlgoMeta{Algo: sm2.Algo, Version: sm2.Version},
	}, nil
}

// Order sorts states soonest-due first, breaking ties by card id.
func Order(states []domain.MemoryState) {
	sort.SliceStable(states, func(i, j int) bool {
		a, b := states[i], states[j]
		if !a.DueAt.Equal(b.DueAt) {
			return a.DueAt.Before(b.DueAt)
		}
		return a.CardID < b.CardID
	})
}
