package domain

import (
	"sort"
	"time"
)

// Snapshot is the full set of per-card memory states of one session.
type Snapshot struct {
	SessionID string        `json:"session_id"`
	Items     []MemoryState `json:"items"`
}

// Find returns the state of cardID and whether the session has seen it.
func (s *Snapshot) Find(cardID string) (MemoryState, bool) {
	if s == nil {
		return MemoryState{}, false
	}
	for _, it := range s.Items {
		if it.CardID == cardID {
			return it, true
		}
	}
	return MemoryState{}, false
}

// SortStates orders states by card ID.
func SortStates(states []MemoryState) {
	sort.Slice(states, func(i, j int) bool { return states[i].CardID < states[j].CardID })
}

// AlgoMeta identifies the scheduling algorithm that produced a result.
type AlgoMeta struct {
	Algo    string `json:"algo"`
	Version string `json:"version"`
}

// ScheduleResult is the derived review order for one schedule request.
type ScheduleResult struct {
	SessionID string
	PlanID    string
	Order     []string
	Due       time.Time
	Meta      AlgoMeta
}
