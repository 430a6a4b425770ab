package progress

import "time"

// Assessment is the automatic correctness result reported with a submit event.
type Assessment struct {
	Correct        bool   `json:"correct"`
	LatencyMS      int    `json:"latency_ms" validate:"min=0"`
	ItemDifficulty string `json:"item_difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	HintCount      int    `json:"hint_count" validate:"min=0"`
	RetryCount     int    `json:"retry_count" validate:"min=0"`
}

// Latency returns the reported latency as a duration.
func (a Assessment) Latency() time.Duration {
	return time.Duration(a.LatencyMS) * time.Millisecond
}

// AssessmentPolicy maps an automatic assessment onto the 0..5 grade scale.
//
//	correct, faster than Fast, no hints, no retries -> 5
//	correct, slower than Slow or more than one hint -> 3
//	any other correct answer                        -> 4
//	incorrect, no hints, no retries, not slow       -> 2
//	incorrect, slower than Slow or more than one hint -> 0
//	any other incorrect answer                      -> 1
type AssessmentPolicy struct {
	FastLatency time.Duration
	SlowLatency time.Duration
}

// DefaultAssessmentPolicy returns the 10s / 30s thresholds.
func DefaultAssessmentPolicy() AssessmentPolicy {
	return AssessmentPolicy{FastLatency: 10 * time.Second, SlowLatency: 30 * time.Second}
}

// Grade returns the SM-2 grade for a.
func (p AssessmentPolicy) Grade(a Assessment) int {
	latency := a.Latency()
	clean := a.HintCount == 0 && a.RetryCount == 0
	struggled := latency > p.SlowLatency || a.HintCount > 1

	if a.Correct {
		switch {
		case clean && latency < p.FastLatency:
			return 5
		case struggled:
			return 3
		default:
			return 4
		}
	}
	switch {
	case struggled:
		return 0
	case clean:
		return 2
	default:
		return 1
	}
}
