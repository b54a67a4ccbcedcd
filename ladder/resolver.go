package ladder

import (
	"fmt"
	"log"
	"time"
)

// GeneChange is one ledger-worthy mutation produced during resolution.
type GeneChange struct {
	PlayerID string
	Delta    int64
	Balance  int64
	Reason   string
	MatchID  string
}

// Ledger reasons.
const (
	ReasonEntryCost    = "entry_cost"
	ReasonEntryRefund  = "entry_refund"
	ReasonWinnerReward = "winner_reward"
	ReasonLoserPenalty = "loser_penalty"
	ReasonInitialGrant = "initial_grant"
)

// Result is the outcome of resolving (or voiding) a match. RankUnchanged is
// partial success: the economy settled but a promotion or demotion was
// blocked by capacity at commit time.
type Result struct {
	Match         Match        `json:"match"`
	WinnerID      string       `json:"winner_id,omitempty"`
	LoserID       string       `json:"loser_id,omitempty"`
	Voided        bool         `json:"voided"`
	RankUnchanged bool         `json:"rank_unchanged"`
	WinnerLevel   int          `json:"winner_level,omitempty"`
	LoserLevel    int          `json:"loser_level,omitempty"`
	WinnerBalance int64        `json:"winner_balance,omitempty"`
	LoserBalance  int64        `json:"loser_balance,omitempty"`
	GeneChanges   []GeneChange `json:"-"`
}

// EncounterResolver turns a declared winner into economic and rank
// consequences, exactly once per match.
type EncounterResolver struct {
	registry *Registry
	matches  *matchTable
	levels   *LevelTable
	rules    Rules
}

func NewEncounterResolver(registry *Registry, matches *matchTable, levels *LevelTable, rules Rules) *EncounterResolver {
	return &EncounterResolver{registry: registry, matches: matches, levels: levels, rules: rules}
}

// Resolve applies the full consequence chain: entry debits, reward/penalty,
// counters, promotion/demotion, match completion. The per-match lock is held
// throughout, which is what makes resolution idempotent: a second report of
// the same match observes Completed and fails with ErrInvalidOutcome before
// touching any balance.
//
// Once gene transfers are applied they are never rolled back; a rank change
// blocked by capacity downgrades the result to RankUnchanged instead of
// failing the call.
func (r *EncounterResolver) Resolve(matchID, winnerID string) (*Result, error) {
	entry, err := r.matches.get(matchID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	m := &entry.m
	if m.Status == StatusCompleted {
		return nil, fmt.Errorf("match %s already completed: %w", matchID, ErrInvalidOutcome)
	}
	if m.Status != StatusActive {
		return nil, fmt.Errorf("match %s is %s, not active: %w", matchID, m.Status, ErrInvalidOutcome)
	}
	if !m.hasPlayer(winnerID) {
		return nil, fmt.Errorf("player %s did not play match %s: %w", winnerID, matchID, ErrInvalidOutcome)
	}
	loserID := m.opponentOf(winnerID)

	res := &Result{WinnerID: winnerID, LoserID: loserID}

	// Entry cost. Charged here with a defensive re-check: if either side
	// cannot afford it the match voids with no net economic effect.
	winBal, err := r.registry.AdjustGenes(winnerID, -r.rules.EntryCost)
	if err != nil {
		r.voidLocked(entry, res)
		return res, nil
	}
	res.geneChange(winnerID, -r.rules.EntryCost, winBal, ReasonEntryCost, m.ID)

	loseBal, err := r.registry.AdjustGenes(loserID, -r.rules.EntryCost)
	if err != nil {
		// Refund the winner's debit so a void leaves no trace.
		refBal, _ := r.registry.AdjustGenes(winnerID, r.rules.EntryCost)
		res.geneChange(winnerID, r.rules.EntryCost, refBal, ReasonEntryRefund, m.ID)
		r.voidLocked(entry, res)
		return res, nil
	}
	res.geneChange(loserID, -r.rules.EntryCost, loseBal, ReasonEntryCost, m.ID)

	// From here on the economic effects stand no matter what.
	winBal, _ = r.registry.AdjustGenes(winnerID, r.rules.WinnerReward)
	res.geneChange(winnerID, r.rules.WinnerReward, winBal, ReasonWinnerReward, m.ID)

	debited, loseBal, _ := r.registry.PenalizeGenes(loserID, r.rules.LoserPenalty)
	if debited > 0 {
		res.geneChange(loserID, -debited, loseBal, ReasonLoserPenalty, m.ID)
	}
	res.WinnerBalance = winBal
	res.LoserBalance = loseBal

	winStreak, _ := r.registry.RecordWin(winnerID)
	lossStreak, _ := r.registry.RecordLoss(loserID)

	res.WinnerLevel = r.maybePromote(winnerID, m.Level, winStreak, res)
	res.LoserLevel = r.maybeDemote(loserID, m.Level, lossStreak, res)

	now := time.Now().UTC()
	m.Status = StatusCompleted
	m.WinnerID = winnerID
	m.EndTime = now

	r.returnToIdle(m)
	res.Match = *m
	return res, nil
}

// maybePromote attempts level+1 when the win streak reaches the configured
// threshold. A full target level silently blocks the promotion.
func (r *EncounterResolver) maybePromote(playerID string, level, streak int, res *Result) int {
	if streak < r.rules.PromotionStreak || level >= r.levels.MaxLevel() {
		return level
	}
	if _, err := r.registry.TransitionLevel(playerID, level+1); err != nil {
		res.RankUnchanged = true
		log.Printf("🏔️ Promotion blocked for %s: level %d full", playerID, level+1)
		return level
	}
	r.registry.ResetWinStreak(playerID)
	return level + 1
}

// maybeDemote mirrors promotion with level 1 as the floor. Moving down is
// near-certain to have room, but capacity is re-checked anyway: another
// player may have taken the freed slot concurrently.
func (r *EncounterResolver) maybeDemote(playerID string, level, streak int, res *Result) int {
	if streak < r.rules.DemotionStreak || level <= 1 {
		return level
	}
	if _, err := r.registry.TransitionLevel(playerID, level-1); err != nil {
		res.RankUnchanged = true
		log.Printf("🏔️ Demotion blocked for %s: level %d full", playerID, level-1)
		return level
	}
	r.registry.ResetLossStreak(playerID)
	return level - 1
}

// voidLocked completes a match with no winner. Caller holds the match lock.
func (r *EncounterResolver) voidLocked(entry *matchEntry, res *Result) {
	m := &entry.m
	m.Status = StatusCompleted
	m.Voided = true
	m.EndTime = time.Now().UTC()
	r.returnToIdle(m)
	res.Voided = true
	res.Match = *m
	log.Printf("⚖️ Match %s voided: entry cost unaffordable", m.ID)
}

func (r *EncounterResolver) returnToIdle(m *Match) {
	for _, id := range []string{m.Player1ID, m.Player2ID} {
		if err := r.registry.SetMatchState(id, StateIdle); err != nil {
			log.Printf("⚠️ Failed to idle player %s after match %s: %v", id, m.ID, err)
		}
	}
	r.matches.release(*m)
}

func (res *Result) geneChange(playerID string, delta, balance int64, reason, matchID string) {
	res.GeneChanges = append(res.GeneChanges, GeneChange{
		PlayerID: playerID,
		Delta:    delta,
		Balance:  balance,
		Reason:   reason,
		MatchID:  matchID,
	})
}
