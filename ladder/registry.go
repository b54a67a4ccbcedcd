package ladder

import (
	"fmt"
	"sort"
	"sync"
)

// MatchState is a player's availability for pairing.
type MatchState string

const (
	StateIdle    MatchState = "idle"
	StateQueued  MatchState = "queued"
	StateInMatch MatchState = "in_match"
)

// legal transitions: Idle→Queued (enqueue), Queued→InMatch (paired),
// Queued→Idle (withdraw), InMatch→Idle (resolved/voided)
func legalTransition(from, to MatchState) bool {
	switch from {
	case StateIdle:
		return to == StateQueued
	case StateQueued:
		return to == StateInMatch || to == StateIdle
	case StateInMatch:
		return to == StateIdle
	}
	return false
}

// Standing is an immutable snapshot of one player's ladder record.
type Standing struct {
	PlayerID   string     `json:"player_id"`
	Level      int        `json:"level"`
	Genes      int64      `json:"genes"`
	Wins       int64      `json:"wins"`
	Losses     int64      `json:"losses"`
	WinStreak  int        `json:"win_streak"`
	LossStreak int        `json:"loss_streak"`
	State      MatchState `json:"state"`
	Active     bool       `json:"active"`
}

type playerRecord struct {
	mu         sync.Mutex
	id         string
	level      int
	genes      int64
	wins       int64
	losses     int64
	winStreak  int
	lossStreak int
	state      MatchState
	active     bool
}

func (p *playerRecord) snapshotLocked() Standing {
	return Standing{
		PlayerID:   p.id,
		Level:      p.level,
		Genes:      p.genes,
		Wins:       p.wins,
		Losses:     p.losses,
		WinStreak:  p.winStreak,
		LossStreak: p.lossStreak,
		State:      p.state,
		Active:     p.active,
	}
}

// Registry owns all mutable player state. Every mutation goes through its
// locked operations; nothing else touches a player record.
//
// Lock ordering (always acquire in this order, never the reverse):
//
//	registry map lock → level locks (ascending level) → player lock
type Registry struct {
	levels       *LevelTable
	initialGrant int64

	mu      sync.RWMutex // guards the players map
	players map[string]*playerRecord

	levelMu   []sync.Mutex // levelMu[i] guards occupancy[i]
	occupancy []int

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

func NewRegistry(levels *LevelTable, initialGrant int64) *Registry {
	return &Registry{
		levels:       levels,
		initialGrant: initialGrant,
		players:      make(map[string]*playerRecord),
		levelMu:      make([]sync.Mutex, levels.MaxLevel()),
		occupancy:    make([]int, levels.MaxLevel()),
		dirty:        make(map[string]struct{}),
	}
}

func (r *Registry) lookup(id string) (*playerRecord, error) {
	r.mu.RLock()
	rec, ok := r.players[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNoSuchPlayer)
	}
	return rec, nil
}

func (r *Registry) markDirty(id string) {
	r.dirtyMu.Lock()
	r.dirty[id] = struct{}{}
	r.dirtyMu.Unlock()
}

// GetOrCreate registers an unseen player at level 1 with the initial gene
// grant. Idempotent per ID; the bool reports whether a record was created.
// Admission consumes a level-1 slot and fails with ErrLevelFull if level 1 is
// saturated.
func (r *Registry) GetOrCreate(id string) (Standing, bool, error) {
	if id == "" {
		return Standing{}, false, fmt.Errorf("empty player id: %w", ErrNoSuchPlayer)
	}
	r.mu.RLock()
	rec, ok := r.players[id]
	r.mu.RUnlock()
	if ok {
		return r.standingOf(rec), false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.players[id]; ok { // lost the create race
		return r.standingOf(rec), false, nil
	}

	cap1, _ := r.levels.CapacityOf(1)
	r.levelMu[0].Lock()
	defer r.levelMu[0].Unlock()
	if r.occupancy[0] >= cap1 {
		return Standing{}, false, fmt.Errorf("level 1: %w", ErrLevelFull)
	}
	rec = &playerRecord{
		id:     id,
		level:  1,
		genes:  r.initialGrant,
		state:  StateIdle,
		active: true,
	}
	r.players[id] = rec
	r.occupancy[0]++
	r.markDirty(id)
	return rec.snapshotLocked(), true, nil
}

// Occupancy counts active players currently assigned to a level.
func (r *Registry) Occupancy(level int) (int, error) {
	if !r.levels.IsValidLevel(level) {
		return 0, fmt.Errorf("level %d: %w", level, ErrNoSuchLevel)
	}
	r.levelMu[level-1].Lock()
	n := r.occupancy[level-1]
	r.levelMu[level-1].Unlock()
	return n, nil
}

// SetMatchState enforces the legal availability transitions.
func (r *Registry) SetMatchState(id string, to MatchState) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.active {
		return fmt.Errorf("player %s: %w", id, ErrPlayerDeactivated)
	}
	if !legalTransition(rec.state, to) {
		return fmt.Errorf("player %s: %s → %s: %w", id, rec.state, to, ErrInvalidStateTransition)
	}
	rec.state = to
	r.markDirty(id)
	return nil
}

// AdjustGenes applies a signed delta atomically. A delta that would drive the
// balance negative is rejected outright, not clamped.
func (r *Registry) AdjustGenes(id string, delta int64) (int64, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.genes+delta < 0 {
		return rec.genes, fmt.Errorf("player %s: balance %d, delta %d: %w", id, rec.genes, delta, ErrInsufficientGenes)
	}
	rec.genes += delta
	r.markDirty(id)
	return rec.genes, nil
}

// PenalizeGenes debits up to amount, clamping at zero. Involuntary debits
// (loss penalties) never fail for lack of funds; the actual debit is returned.
func (r *Registry) PenalizeGenes(id string, amount int64) (debited, balance int64, err error) {
	rec, err := r.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	debited = amount
	if debited > rec.genes {
		debited = rec.genes
	}
	rec.genes -= debited
	r.markDirty(id)
	return debited, rec.genes, nil
}

// RecordWin bumps the win counter and streak; returns the new streak.
func (r *Registry) RecordWin(id string) (int, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.wins++
	rec.winStreak++
	rec.lossStreak = 0
	r.markDirty(id)
	return rec.winStreak, nil
}

// RecordLoss bumps the loss counter and streak; returns the new streak.
func (r *Registry) RecordLoss(id string) (int, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.losses++
	rec.lossStreak++
	rec.winStreak = 0
	r.markDirty(id)
	return rec.lossStreak, nil
}

// ResetWinStreak clears the streak once a promotion consumed it.
func (r *Registry) ResetWinStreak(id string) {
	if rec, err := r.lookup(id); err == nil {
		rec.mu.Lock()
		rec.winStreak = 0
		rec.mu.Unlock()
		r.markDirty(id)
	}
}

// ResetLossStreak clears the streak once a demotion consumed it.
func (r *Registry) ResetLossStreak(id string) {
	if rec, err := r.lookup(id); err == nil {
		rec.mu.Lock()
		rec.lossStreak = 0
		rec.mu.Unlock()
		r.markDirty(id)
	}
}

// TransitionLevel moves a player, returning the prior level. The capacity
// check and the move commit happen inside the same critical section: when two
// moves race for the last open slot, exactly one wins and the other observes
// ErrLevelFull.
func (r *Registry) TransitionLevel(id string, newLevel int) (int, error) {
	if !r.levels.IsValidLevel(newLevel) {
		return 0, fmt.Errorf("level %d: %w", newLevel, ErrNoSuchLevel)
	}
	rec, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	for {
		rec.mu.Lock()
		cur := rec.level
		rec.mu.Unlock()
		if cur == newLevel {
			return cur, nil
		}

		lo, hi := cur, newLevel
		if lo > hi {
			lo, hi = hi, lo
		}
		r.levelMu[lo-1].Lock()
		r.levelMu[hi-1].Lock()
		rec.mu.Lock()
		if rec.level != cur { // moved concurrently, start over
			rec.mu.Unlock()
			r.levelMu[hi-1].Unlock()
			r.levelMu[lo-1].Unlock()
			continue
		}
		capN, _ := r.levels.CapacityOf(newLevel)
		if r.occupancy[newLevel-1] >= capN {
			rec.mu.Unlock()
			r.levelMu[hi-1].Unlock()
			r.levelMu[lo-1].Unlock()
			return 0, fmt.Errorf("level %d: %w", newLevel, ErrLevelFull)
		}
		r.occupancy[cur-1]--
		r.occupancy[newLevel-1]++
		rec.level = newLevel
		rec.mu.Unlock()
		r.levelMu[hi-1].Unlock()
		r.levelMu[lo-1].Unlock()
		r.markDirty(id)
		return cur, nil
	}
}

// Deactivate retires an idle player. The record is kept as history but the
// player stops counting against level occupancy.
func (r *Registry) Deactivate(id string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	for {
		rec.mu.Lock()
		level := rec.level
		rec.mu.Unlock()

		r.levelMu[level-1].Lock()
		rec.mu.Lock()
		if rec.level != level {
			rec.mu.Unlock()
			r.levelMu[level-1].Unlock()
			continue
		}
		if !rec.active {
			rec.mu.Unlock()
			r.levelMu[level-1].Unlock()
			return nil
		}
		if rec.state != StateIdle {
			rec.mu.Unlock()
			r.levelMu[level-1].Unlock()
			return fmt.Errorf("player %s is %s: %w", id, rec.state, ErrInvalidStateTransition)
		}
		rec.active = false
		r.occupancy[level-1]--
		rec.mu.Unlock()
		r.levelMu[level-1].Unlock()
		r.markDirty(id)
		return nil
	}
}

// Standing returns a point-in-time snapshot of one player.
func (r *Registry) Standing(id string) (Standing, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return Standing{}, err
	}
	return r.standingOf(rec), nil
}

func (r *Registry) standingOf(rec *playerRecord) Standing {
	rec.mu.Lock()
	s := rec.snapshotLocked()
	rec.mu.Unlock()
	return s
}

// TopStandings lists active players ordered by genes, then wins, then ID.
// level 0 means all levels.
func (r *Registry) TopStandings(level, limit int) ([]Standing, error) {
	if level != 0 && !r.levels.IsValidLevel(level) {
		return nil, fmt.Errorf("level %d: %w", level, ErrNoSuchLevel)
	}
	r.mu.RLock()
	all := make([]Standing, 0, len(r.players))
	for _, rec := range r.players {
		s := r.standingOf(rec)
		if !s.Active {
			continue
		}
		if level != 0 && s.Level != level {
			continue
		}
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Genes != all[j].Genes {
			return all[i].Genes > all[j].Genes
		}
		if all[i].Wins != all[j].Wins {
			return all[i].Wins > all[j].Wins
		}
		return all[i].PlayerID < all[j].PlayerID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Rehydrate loads persisted standings at boot, before any traffic. Players
// are restored as Idle regardless of their state at shutdown: queue and match
// state is not durable.
func (r *Registry) Rehydrate(standings []Standing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range standings {
		if !r.levels.IsValidLevel(s.Level) {
			return fmt.Errorf("player %s at level %d: %w", s.PlayerID, s.Level, ErrNoSuchLevel)
		}
		if _, ok := r.players[s.PlayerID]; ok {
			continue
		}
		if s.Active {
			capN, _ := r.levels.CapacityOf(s.Level)
			if r.occupancy[s.Level-1] >= capN {
				return fmt.Errorf("restoring player %s: level %d: %w", s.PlayerID, s.Level, ErrLevelFull)
			}
			r.occupancy[s.Level-1]++
		}
		r.players[s.PlayerID] = &playerRecord{
			id:         s.PlayerID,
			level:      s.Level,
			genes:      s.Genes,
			wins:       s.Wins,
			losses:     s.Losses,
			winStreak:  s.WinStreak,
			lossStreak: s.LossStreak,
			state:      StateIdle,
			active:     s.Active,
		}
	}
	return nil
}

// DrainDirty snapshots and clears the set of players mutated since the last
// drain. The snapshot worker persists these in batches.
func (r *Registry) DrainDirty() []Standing {
	r.dirtyMu.Lock()
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	r.dirty = make(map[string]struct{})
	r.dirtyMu.Unlock()

	out := make([]Standing, 0, len(ids))
	for _, id := range ids {
		if s, err := r.Standing(id); err == nil {
			out = append(out, s)
		}
	}
	return out
}
