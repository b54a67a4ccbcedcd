package ladder

import (
	"fmt"
	"log"
	"time"
)

// Hooks let the persistence layer observe state changes without the core
// depending on it. All callbacks are optional and must not block pairing.
type Hooks struct {
	PlayerCreated func(Standing, GeneChange)
	MatchCreated  func(Match)
	MatchUpdated  func(Match)
	Resolved      func(*Result)
}

// Ticket is the answer to a match request: either a formed match or a queue
// position to wait at.
type Ticket struct {
	Match    *Match `json:"match,omitempty"`
	Queued   bool   `json:"queued"`
	Position int    `json:"position,omitempty"`
}

// Coordinator is the single entry point to the ladder. It composes the level
// table, registry, pairing engine and resolver, and owns no state of its own
// beyond the hook wiring.
type Coordinator struct {
	levels   *LevelTable
	registry *Registry
	pairing  *PairingEngine
	resolver *EncounterResolver
	matches  *matchTable
	rules    Rules
	hooks    Hooks
}

func NewCoordinator(levels *LevelTable, rules Rules, encounters EncounterAssigner, hooks Hooks) *Coordinator {
	registry := NewRegistry(levels, rules.InitialGrant)
	matches := newMatchTable()
	return &Coordinator{
		levels:   levels,
		registry: registry,
		pairing:  NewPairingEngine(registry, matches, levels, encounters),
		resolver: NewEncounterResolver(registry, matches, levels, rules),
		matches:  matches,
		rules:    rules,
		hooks:    hooks,
	}
}

// Registry exposes read access for rehydration and the snapshot worker.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Rules returns the active rule configuration.
func (c *Coordinator) Rules() Rules { return c.rules }

// RequestMatch admits the player if unseen, then either pairs them with the
// longest-waiting same-level player or leaves them queued. Never blocks until
// a partner appears.
func (c *Coordinator) RequestMatch(playerID string) (*Ticket, error) {
	s, created, err := c.registry.GetOrCreate(playerID)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("🧬 New player %s admitted at level 1 with %d genes", playerID, s.Genes)
		if c.hooks.PlayerCreated != nil {
			c.hooks.PlayerCreated(s, GeneChange{
				PlayerID: playerID,
				Delta:    s.Genes,
				Balance:  s.Genes,
				Reason:   ReasonInitialGrant,
			})
		}
	}

	m, pos, err := c.pairing.Enqueue(playerID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		if c.hooks.MatchCreated != nil {
			c.hooks.MatchCreated(*m)
		}
		return &Ticket{Match: m}, nil
	}
	return &Ticket{Queued: true, Position: pos}, nil
}

// CancelQueue withdraws a queued player. When pairing won the race the caller
// gets ErrAlreadyPairing together with the match they were placed into.
func (c *Coordinator) CancelQueue(playerID string) (Match, error) {
	return c.pairing.Withdraw(playerID)
}

// AcknowledgeStart records one client's ready signal; the match goes Active
// once both players acknowledged. Acknowledging an Active match is a no-op.
func (c *Coordinator) AcknowledgeStart(matchID, playerID string) (Match, error) {
	entry, err := c.matches.get(matchID)
	if err != nil {
		return Match{}, err
	}
	entry.mu.Lock()
	m := &entry.m
	if !m.hasPlayer(playerID) {
		entry.mu.Unlock()
		return Match{}, fmt.Errorf("player %s did not play match %s: %w", playerID, matchID, ErrInvalidOutcome)
	}
	if m.Status == StatusCompleted {
		entry.mu.Unlock()
		return Match{}, fmt.Errorf("match %s already completed: %w", matchID, ErrInvalidStateTransition)
	}
	if playerID == m.Player1ID {
		entry.ack1 = true
	} else {
		entry.ack2 = true
	}
	activated := false
	if m.Status == StatusPending && entry.ack1 && entry.ack2 {
		m.Status = StatusActive
		activated = true
	}
	snap := *m
	entry.mu.Unlock()

	if activated && c.hooks.MatchUpdated != nil {
		c.hooks.MatchUpdated(snap)
	}
	return snap, nil
}

// ReportOutcome resolves an Active match. Safe to call concurrently and
// repeatedly; only the first structurally valid report has any effect.
func (c *Coordinator) ReportOutcome(matchID, winnerID string) (*Result, error) {
	res, err := c.resolver.Resolve(matchID, winnerID)
	if err != nil {
		return nil, err
	}
	if c.hooks.Resolved != nil {
		c.hooks.Resolved(res)
	}
	return res, nil
}

// GetStanding reports one player's level, genes and record.
func (c *Coordinator) GetStanding(playerID string) (Standing, error) {
	return c.registry.Standing(playerID)
}

// Leaderboard lists top standings; level 0 spans all levels.
func (c *Coordinator) Leaderboard(level, limit int) ([]Standing, error) {
	return c.registry.TopStandings(level, limit)
}

// ActiveMatchFor returns the player's in-progress match, if any.
func (c *Coordinator) ActiveMatchFor(playerID string) (Match, bool) {
	return c.matches.forPlayer(playerID)
}

// Occupancy reports how many active players a level holds.
func (c *Coordinator) Occupancy(level int) (int, error) {
	return c.registry.Occupancy(level)
}

// QueueLength reports how many players wait at a level.
func (c *Coordinator) QueueLength(level int) (int, error) {
	return c.pairing.QueueLength(level)
}

// ExpirePending voids Pending matches older than the acknowledgment timeout
// and returns their players to Idle. Called by the expiry scheduler; returns
// the voided matches for persistence.
func (c *Coordinator) ExpirePending(now time.Time) []Match {
	cutoff := now.Add(-c.rules.AckTimeout)
	var voided []Match
	for _, m := range c.matches.pendingOlderThan(cutoff) {
		entry, err := c.matches.get(m.ID)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		if entry.m.Status != StatusPending { // activated or resolved meanwhile
			entry.mu.Unlock()
			continue
		}
		entry.m.Status = StatusCompleted
		entry.m.Voided = true
		entry.m.EndTime = now.UTC()
		snap := entry.m
		c.resolver.returnToIdle(&entry.m)
		entry.mu.Unlock()

		log.Printf("⏲️ Match %s expired unacknowledged, players released", snap.ID)
		if c.hooks.MatchUpdated != nil {
			c.hooks.MatchUpdated(snap)
		}
		voided = append(voided, snap)
	}
	return voided
}

// Deactivate retires an idle player from the ladder.
func (c *Coordinator) Deactivate(playerID string) error {
	return c.registry.Deactivate(playerID)
}
