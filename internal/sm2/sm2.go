package sm2

import (
	"math"
	"time"
)

// Algorithm identity reported alongside every schedule.
const (
	Algo    = "sm2-lite"
	Version = "v0"
)

// Bounds and defaults of the ease factor.
const (
	MinEase     = 1.3
	MaxEase     = 3.0
	DefaultEase = 2.5
)

// Grade scale. Anything below PassingGrade is a failed review.
const (
	MinGrade     = 0
	MaxGrade     = 5
	PassingGrade = 3
)

// MaxIntervalDays caps interval growth so long success streaks stay
// representable as a time.Duration.
const MaxIntervalDays = 36500

// Day is the length of one interval day. No calendar semantics apply.
const Day = 24 * time.Hour

// State holds the SM-2 parameters of a card.
type State struct {
	Reps         int
	Ease         float64
	IntervalDays int
	LastGrade    *int
}

// ClampGrade limits an integer grade to the 0..5 scale.
func ClampGrade(grade int) int {
	if grade < MinGrade {
		return MinGrade
	}
	if grade > MaxGrade {
		return MaxGrade
	}
	return grade
}

// ClampGradeFloat rounds a fractional grade to the nearest integer, then clamps it.
func ClampGradeFloat(grade float64) int {
	if math.IsNaN(grade) {
		return MinGrade
	}
	return ClampGrade(int(math.Max(math.Min(math.Round(grade), MaxGrade), MinGrade)))
}

// EaseDelta is the canonical SM-2 ease adjustment for a clamped grade q.
func EaseDelta(q int) float64 {
	miss := float64(MaxGrade - q)
	return 0.1 - miss*(0.08+miss*0.02)
}

// Update applies one review graded q to s and returns the new state.
// Failed reviews reset reps and interval but still move the ease.
func Update(s State, grade int) State {
	q := ClampGrade(grade)

	ease := s.Ease
	if ease == 0 {
		ease = DefaultEase
	}
	ease = clamp(ease+EaseDelta(q), MinEase, MaxEase)

	if q < PassingGrade {
		return State{Reps: 0, Ease: ease, IntervalDays: 0, LastGrade: &q}
	}

	reps := s.Reps + 1
	var interval int
	switch reps {
	case 1:
		interval = 1
	case 2:
		interval = 6
	default:
		prev := s.IntervalDays
		if prev <= 0 {
			prev = 6
		}
		interval = int(math.Min(math.Round(float64(prev)*ease), MaxIntervalDays))
	}

	return State{Reps: reps, Ease: ease, IntervalDays: interval, LastGrade: &q}
}

// NextDue returns the instant intervalDays whole days after from.
func NextDue(from time.Time, intervalDays int) time.Time {
	return from.Add(time.Duration(intervalDays) * Day)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
