package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/sm2"
	"github.com/conorfennell/recall/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Action is the kind of review event.
type Action string

const (
	ActionGrade  Action = "grade"
	ActionFlip   Action = "flip"
	ActionReset  Action = "reset"
	ActionSubmit Action = "submit"
)

var (
	ErrUnknownAction     = errors.New("progress: unknown action")
	ErrMissingGrade      = errors.New("progress: grade action requires a grade")
	ErrMissingAssessment = errors.New("progress: submit action requires a grade or a result")
	ErrMissingCard       = errors.New("progress: event requires a session and a card id")
)

// Event is one review interaction with a card.
type Event struct {
	SessionID string
	CardID    string
	Action    Action
	Grade     *int
	At        time.Time
	Result    *Assessment
}

// Processor applies review events to per-card memory state.
type Processor struct {
	store  storage.Store
	locker storage.Locker
	policy AssessmentPolicy
	logger *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(store storage.Store, locker storage.Locker, policy AssessmentPolicy, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, locker: locker, policy: policy, logger: logger}
}

// Apply runs ev against the card's current state and persists the result.
// written is false only for a flip on a card the session has never seen.
func (p *Processor) Apply(ctx context.Context, ev Event) (state domain.MemoryState, written bool, err error) {
	ctx, span := otel.Tracer("recall/progress").Start(ctx, "Processor.Apply", trace.WithAttributes(
		attribute.String("session.id", ev.SessionID),
		attribute.String("card.id", ev.CardID),
		attribute.String("event.action", string(ev.Action)),
	))
	defer span.End()

	if ev.SessionID == "" || ev.CardID == "" {
		return domain.MemoryState{}, false, ErrMissingCard
	}
	q, err := p.gradeFor(ev)
	if err != nil {
		return domain.MemoryState{}, false, err
	}
	if ev.Result != nil {
		span.SetAttributes(attribute.String("item.difficulty", ev.Result.ItemDifficulty))
	}

	ctx, unlock, err := p.locker.Lock(ctx, ev.SessionID)
	if err != nil {
		span.RecordError(err)
		return domain.MemoryState{}, false, fmt.Errorf("failed to lock session %s: %w", ev.SessionID, err)
	}
	defer unlock()

	snap, err := p.store.Get(ctx, ev.SessionID)
	if err != nil {
		span.RecordError(err)
		return domain.MemoryState{}, false, err
	}
	current, seen := snap.Find(ev.CardID)
	if !seen {
		current = domain.NewMemoryState(ev.CardID, ev.At)
	}

	var next domain.MemoryState
	switch ev.Action {
	case ActionFlip:
		if !seen {
			return current, false, nil
		}
		next = current.ClampForward(ev.At)
	case ActionReset:
		next = domain.NewMemoryState(ev.CardID, ev.At)
	case ActionGrade, ActionSubmit:
		next = Review(current, q, ev.At)
	}

	if err := p.store.UpsertCard(ctx, ev.SessionID, next); err != nil {
		span.RecordError(err)
		return domain.MemoryState{}, false, err
	}

	p.logger.Debug("progress applied",
		"session_id", ev.SessionID,
		"card_id", ev.CardID,
		"action", string(ev.Action),
		"reps", next.Reps,
		"interval_days", next.IntervalDays,
	)
	return next, true, nil
}

// Snapshot returns the session's states; an unknown session has no items.
func (p *Processor) Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	snap, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if snap == nil {
		return domain.Snapshot{SessionID: sessionID, Items: []domain.MemoryState{}}, nil
	}
	return *snap, nil
}

// Review applies an SM-2 grade to st at the given instant.
func Review(st domain.MemoryState, grade int, at time.Time) domain.MemoryState {
	updated := sm2.Update(sm2.State{
		Reps:         st.Reps,
		Ease:         st.Ease,
		IntervalDays: st.IntervalDays,
		LastGrade:    st.LastGrade,
	}, grade)

	return domain.MemoryState{
		CardID:       st.CardID,
		Reps:         updated.Reps,
		Ease:         updated.Ease,
		IntervalDays: updated.IntervalDays,
		LastGrade:    updated.LastGrade,
		DueAt:        sm2.NextDue(at, updated.IntervalDays),
	}
}

// gradeFor validates ev and resolves the grade of terminal events.
func (p *Processor) gradeFor(ev Event) (int, error) {
	switch ev.Action {
	case ActionFlip, ActionReset:
		return 0, nil
	case ActionGrade:
		if ev.Grade == nil {
			return 0, ErrMissingGrade
		}
		return *ev.Grade, nil
	case ActionSubmit:
		if ev.Grade != nil {
			return *ev.Grade, nil
		}
		if ev.Result == nil {
			return 0, ErrMissingAssessment
		}
		return p.policy.Grade(*ev.Result), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
}
