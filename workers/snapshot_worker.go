package workers

import (
	"context"
	"log"
	"time"

	"darwin-ladder-service/ladder"
	"darwin-ladder-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StandingSnapshotter flushes dirty in-memory player records to Postgres.
// The registry stays authoritative between flushes; losing one flush window
// on a crash is the accepted durability trade (the gene ledger rows written
// at resolution time are what reconciliation uses).
type StandingSnapshotter struct {
	DB       *gorm.DB
	Registry *ladder.Registry
}

func NewStandingSnapshotter(db *gorm.DB, registry *ladder.Registry) *StandingSnapshotter {
	return &StandingSnapshotter{DB: db, Registry: registry}
}

// PollStandings runs the flush loop until the context is cancelled. A final
// flush on shutdown picks up whatever the last tick missed.
func PollStandings(ctx context.Context, s *StandingSnapshotter, interval time.Duration) {
	log.Println("Starting standing snapshot worker (registry → players table)...")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n, err := s.Flush(); err != nil {
				log.Printf("❌ Final snapshot flush failed: %v", err)
			} else if n > 0 {
				log.Printf("💾 Final snapshot flushed %d player(s)", n)
			}
			log.Println("Standing snapshot worker stopped.")
			return
		case <-ticker.C:
			n, err := s.Flush()
			if err != nil {
				log.Printf("❌ Snapshot flush failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("💾 Flushed %d dirty player record(s)", n)
			}
		}
	}
}

// Flush drains the registry's dirty set and batch-upserts the snapshots.
// Display name and created_at stay untouched: those columns belong to the
// profile sync worker and the row creator respectively.
func (s *StandingSnapshotter) Flush() (int, error) {
	standings := s.Registry.DrainDirty()
	if len(standings) == 0 {
		return 0, nil
	}

	rows := make([]models.Player, 0, len(standings))
	for _, st := range standings {
		rows = append(rows, models.Player{
			ID:          st.PlayerID,
			Level:       st.Level,
			GeneBalance: st.Genes,
			Wins:        st.Wins,
			Losses:      st.Losses,
			WinStreak:   st.WinStreak,
			LossStreak:  st.LossStreak,
			MatchState:  string(st.State),
			Active:      st.Active,
		})
	}

	// Bulk upsert in one statement (PostgreSQL ON CONFLICT).
	err := s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"level", "gene_balance", "wins", "losses",
			"win_streak", "loss_streak", "match_state", "active", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
