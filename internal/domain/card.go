package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Difficulty is an optional tag a content pipeline attaches to a card.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is empty or one of the known tags.
func (d Difficulty) IsValid() bool {
	switch d {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Card is an immutable review unit supplied by the caller of a schedule request.
type Card struct {
	ID         string     `json:"id" validate:"required"`
	Front      string     `json:"front,omitempty"`
	Back       string     `json:"back,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
}

// Initial memory parameters for a card that has never been reviewed.
const (
	InitialEase     = 2.5
	InitialReps     = 0
	InitialInterval = 0
)

// TimeLayout renders timestamps the way the wire contract expects them:
// UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime formats t in TimeLayout after converting it to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// MemoryState is the per-card, per-session record the engine owns.
type MemoryState struct {
	CardID       string
	Reps         int
	Ease         float64
	IntervalDays int
	LastGrade    *int
	DueAt        time.Time
}

// NewMemoryState returns the state of a never-seen card, due at the given instant.
func NewMemoryState(cardID string, at time.Time) MemoryState {
	return MemoryState{
		CardID:       cardID,
		Reps:         InitialReps,
		Ease:         InitialEase,
		IntervalDays: InitialInterval,
		DueAt:        at,
	}
}

// ClampForward moves a due date that is at or before now up to now.
func (s MemoryState) ClampForward(now time.Time) MemoryState {
	if !s.DueAt.After(now) {
		s.DueAt = now
	}
	return s
}

// Clone returns a copy that shares no pointers with s.
func (s MemoryState) Clone() MemoryState {
	if s.LastGrade != nil {
		g := *s.LastGrade
		s.LastGrade = &g
	}
	return s
}

// memoryStateWire carries the field aliases of the persisted layout (ef, dueISO).
type memoryStateWire struct {
	CardID       string  `json:"card_id"`
	Reps         int     `json:"reps"`
	Ease         float64 `json:"ef"`
	IntervalDays int     `json:"intervalDays"`
	LastGrade    *int    `json:"lastGrade,omitempty"`
	DueISO       string  `json:"dueISO"`
}

// MarshalJSON implements json.Marshaler.
func (s MemoryState) MarshalJSON() ([]byte, error) {
	return json.Marshal(memoryStateWire{
		CardID:       s.CardID,
		Reps:         s.Reps,
		Ease:         s.Ease,
		IntervalDays: s.IntervalDays,
		LastGrade:    s.LastGrade,
		DueISO:       FormatTime(s.DueAt),
	})
}

// UnmarshalJSON implements json.Unmarshaler. A missing ef defaults to the
// initial ease, matching what a brand new card would carry.
func (s *MemoryState) UnmarshalJSON(data []byte) error {
	w := memoryStateWire{Ease: InitialEase}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	due, err := time.Parse(time.RFC3339Nano, w.DueISO)
	if err != nil {
		return fmt.Errorf("invalid dueISO %q: %w", w.DueISO, err)
	}
	*s = MemoryState{
		CardID:       w.CardID,
		Reps:         w.Reps,
		Ease:         w.Ease,
		IntervalDays: w.IntervalDays,
		LastGrade:    w.LastGrade,
		DueAt:        due,
	}
	return nil
}

// Validate checks the invariants every stored state must satisfy.
func (s MemoryState) Validate() error {
	switch {
	case s.CardID == "":
		return fmt.Errorf("memory state: empty card id")
	case s.Reps < 0:
		return fmt.Errorf("memory state %s: negative reps %d", s.CardID, s.Reps)
	case s.Ease < 1.3 || s.Ease > 3.0:
		return fmt.Errorf("memory state %s: ease %.4f out of [1.3, 3.0]", s.CardID, s.Ease)
	case s.IntervalDays < 0:
		return fmt.Errorf("memory state %s: negative interval %d", s.CardID, s.IntervalDays)
	case s.LastGrade != nil && (*s.LastGrade < 0 || *s.LastGrade > 5):
		return fmt.Errorf("memory state %s: last grade %d out of [0, 5]", s.CardID, *s.LastGrade)
	case s.DueAt.IsZero():
		return fmt.Errorf("memory state %s: zero due date", s.CardID)
	}
	return nil
}
