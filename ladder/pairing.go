package ladder

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EncounterAssigner picks the encounter a freshly paired match will play.
// The DB-backed catalog implements it; the zero value assigner is used in
// tests and when no catalog is configured.
type EncounterAssigner interface {
	Assign(level int) string
}

type noopAssigner struct{}

func (noopAssigner) Assign(int) string { return "" }

// levelQueue is the FIFO waiting line of one level. Arrival order is the only
// tie-break: the two longest-waiting eligible players are always paired first.
type levelQueue struct {
	mu      sync.Mutex
	waiting []string
	member  map[string]struct{}
}

func (q *levelQueue) remove(id string) bool {
	if _, ok := q.member[id]; !ok {
		return false
	}
	delete(q.member, id)
	for i, w := range q.waiting {
		if w == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	return true
}

// PairingEngine forms matches inside a level. All pairing decisions for one
// level serialize on that level's queue lock; levels pair independently.
type PairingEngine struct {
	registry   *Registry
	matches    *matchTable
	encounters EncounterAssigner
	queues     []*levelQueue
}

func NewPairingEngine(registry *Registry, matches *matchTable, levels *LevelTable, encounters EncounterAssigner) *PairingEngine {
	if encounters == nil {
		encounters = noopAssigner{}
	}
	qs := make([]*levelQueue, levels.MaxLevel())
	for i := range qs {
		qs[i] = &levelQueue{member: make(map[string]struct{})}
	}
	return &PairingEngine{
		registry:   registry,
		matches:    matches,
		encounters: encounters,
		queues:     qs,
	}
}

// Enqueue puts a player into their level's waiting line and immediately tries
// to pair. Returns the created match when two players were available, or the
// player's queue position (1-based) when they have to wait.
func (e *PairingEngine) Enqueue(playerID string) (*Match, int, error) {
	for {
		s, err := e.registry.Standing(playerID)
		if err != nil {
			return nil, 0, err
		}
		switch s.State {
		case StateQueued:
			return nil, 0, fmt.Errorf("player %s: %w", playerID, ErrAlreadyQueued)
		case StateInMatch:
			return nil, 0, fmt.Errorf("player %s: %w", playerID, ErrAlreadyInMatch)
		}

		q := e.queues[s.Level-1]
		q.mu.Lock()

		// The state check above was advisory; SetMatchState under the queue
		// lock is what actually rejects double-queueing.
		if err := e.registry.SetMatchState(playerID, StateQueued); err != nil {
			q.mu.Unlock()
			if cur, serr := e.registry.Standing(playerID); serr == nil && cur.State == StateInMatch {
				return nil, 0, fmt.Errorf("player %s: %w", playerID, ErrAlreadyInMatch)
			}
			return nil, 0, fmt.Errorf("player %s: %w", playerID, ErrAlreadyQueued)
		}

		// A concurrent request for the same player may have run a full match
		// and moved them to another level before we captured them. Back out
		// and retry against the right queue.
		cur, err := e.registry.Standing(playerID)
		if err != nil || cur.Level != s.Level {
			_ = e.registry.SetMatchState(playerID, StateIdle)
			q.mu.Unlock()
			if err != nil {
				return nil, 0, err
			}
			continue
		}

		q.waiting = append(q.waiting, playerID)
		q.member[playerID] = struct{}{}

		m := e.tryPairLocked(q, s.Level)
		pos := len(q.waiting)
		q.mu.Unlock()
		if m != nil {
			return m, 0, nil
		}
		return nil, pos, nil
	}
}

// tryPairLocked pairs the two longest-waiting players of a level. Caller
// holds the queue lock.
func (e *PairingEngine) tryPairLocked(q *levelQueue, level int) *Match {
	if len(q.waiting) < 2 {
		return nil
	}
	p1 := q.waiting[0]
	p2 := q.waiting[1]
	q.waiting = q.waiting[2:]
	delete(q.member, p1)
	delete(q.member, p2)

	// Both were set Queued under this lock and nothing else moves Queued
	// players, so these transitions cannot fail.
	_ = e.registry.SetMatchState(p1, StateInMatch)
	_ = e.registry.SetMatchState(p2, StateInMatch)

	m := Match{
		ID:          uuid.NewString(),
		Player1ID:   p1,
		Player2ID:   p2,
		Level:       level,
		Status:      StatusPending,
		EncounterID: e.encounters.Assign(level),
		StartTime:   time.Now().UTC(),
	}
	e.matches.insert(m)
	return &m
}

// Withdraw removes a queued player before pairing completes. If pairing
// already captured the player, the withdrawal loses the race: the caller gets
// ErrAlreadyPairing plus the match they were just placed into.
func (e *PairingEngine) Withdraw(playerID string) (Match, error) {
	s, err := e.registry.Standing(playerID)
	if err != nil {
		return Match{}, err
	}
	if s.State == StateIdle {
		return Match{}, fmt.Errorf("player %s: %w", playerID, ErrNotQueued)
	}

	q := e.queues[s.Level-1]
	q.mu.Lock()
	removed := q.remove(playerID)
	if removed {
		err = e.registry.SetMatchState(playerID, StateIdle)
	}
	q.mu.Unlock()

	if removed {
		return Match{}, err
	}
	if m, ok := e.matches.forPlayer(playerID); ok {
		return m, fmt.Errorf("player %s: %w", playerID, ErrAlreadyPairing)
	}
	return Match{}, fmt.Errorf("player %s: %w", playerID, ErrNotQueued)
}

// QueueLength reports how many players are waiting at a level.
func (e *PairingEngine) QueueLength(level int) (int, error) {
	if level < 1 || level > len(e.queues) {
		return 0, fmt.Errorf("level %d: %w", level, ErrNoSuchLevel)
	}
	q := e.queues[level-1]
	q.mu.Lock()
	n := len(q.waiting)
	q.mu.Unlock()
	return n, nil
}
