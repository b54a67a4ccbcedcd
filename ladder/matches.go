package ladder

import (
	"fmt"
	"sync"
	"time"
)

// MatchStatus is the lifecycle of a paired session.
type MatchStatus string

const (
	StatusPending   MatchStatus = "pending" // created, waiting for both clients to acknowledge
	StatusActive    MatchStatus = "active"
	StatusCompleted MatchStatus = "completed"
)

// Match is the in-memory record of a paired session. Snapshots of it cross
// API and persistence boundaries; the live record stays inside the table.
type Match struct {
	ID          string      `json:"id"`
	Player1ID   string      `json:"player1_id"`
	Player2ID   string      `json:"player2_id"`
	Level       int         `json:"level"`
	Status      MatchStatus `json:"status"`
	EncounterID string      `json:"encounter_id"`
	WinnerID    string      `json:"winner_id,omitempty"`
	Voided      bool        `json:"voided"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time,omitempty"`
}

func (m *Match) hasPlayer(id string) bool {
	return id != "" && (m.Player1ID == id || m.Player2ID == id)
}

func (m *Match) opponentOf(id string) string {
	switch id {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}

type matchEntry struct {
	mu   sync.Mutex
	m    Match
	ack1 bool
	ack2 bool
}

// matchTable holds every match for the process lifetime plus the
// player→in-progress-match index that guarantees one match per player.
type matchTable struct {
	mu       sync.RWMutex
	matches  map[string]*matchEntry
	byPlayer map[string]string // player → ID of their Pending/Active match
}

func newMatchTable() *matchTable {
	return &matchTable{
		matches:  make(map[string]*matchEntry),
		byPlayer: make(map[string]string),
	}
}

func (t *matchTable) insert(m Match) {
	t.mu.Lock()
	t.matches[m.ID] = &matchEntry{m: m}
	t.byPlayer[m.Player1ID] = m.ID
	t.byPlayer[m.Player2ID] = m.ID
	t.mu.Unlock()
}

func (t *matchTable) get(id string) (*matchEntry, error) {
	t.mu.RLock()
	e, ok := t.matches[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, ErrNoSuchMatch)
	}
	return e, nil
}

// forPlayer returns the player's in-progress match, if any.
func (t *matchTable) forPlayer(playerID string) (Match, bool) {
	t.mu.RLock()
	id, ok := t.byPlayer[playerID]
	t.mu.RUnlock()
	if !ok {
		return Match{}, false
	}
	e, err := t.get(id)
	if err != nil {
		return Match{}, false
	}
	e.mu.Lock()
	m := e.m
	e.mu.Unlock()
	return m, true
}

// release drops the player→match index entries once a match completes.
func (t *matchTable) release(m Match) {
	t.mu.Lock()
	if t.byPlayer[m.Player1ID] == m.ID {
		delete(t.byPlayer, m.Player1ID)
	}
	if t.byPlayer[m.Player2ID] == m.ID {
		delete(t.byPlayer, m.Player2ID)
	}
	t.mu.Unlock()
}

// pendingOlderThan snapshots Pending matches started before the cutoff.
func (t *matchTable) pendingOlderThan(cutoff time.Time) []Match {
	t.mu.RLock()
	entries := make([]*matchEntry, 0, len(t.matches))
	for _, e := range t.matches {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	var out []Match
	for _, e := range entries {
		e.mu.Lock()
		if e.m.Status == StatusPending && e.m.StartTime.Before(cutoff) {
			out = append(out, e.m)
		}
		e.mu.Unlock()
	}
	return out
}
