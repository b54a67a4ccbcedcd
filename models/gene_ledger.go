package models

// GeneLedgerEntry is the append-only audit trail of gene mutations. The ledger
// is the durable source of truth for the economy: resolved matches write their
// transfers here and these rows are never updated afterwards.
type GeneLedgerEntry struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PlayerID string `gorm:"index;not null" json:"player_id"`
	MatchID  *string `gorm:"index" json:"match_id,omitempty"` // nil for non-match mutations (initial grant)

	Delta   int64  `json:"delta"`                                  // signed; negative = debit
	Balance int64  `json:"balance"`                                // balance after applying Delta
	Reason  string `json:"reason" gorm:"type:varchar(32);not null"` // entry_cost, winner_reward, loser_penalty, entry_refund, initial_grant

	Timestamps
}
