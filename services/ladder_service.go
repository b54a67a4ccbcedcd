package services

import (
	"errors"
	"log"
	"time"

	"darwin-ladder-service/ladder"
	"darwin-ladder-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LadderService fronts the in-memory ladder coordinator with HTTP handlers
// and mirrors its state changes into Postgres. The coordinator is the runtime
// source of truth; the DB is the durable record.
type LadderService struct {
	DB     *gorm.DB
	Ladder *ladder.Coordinator
}

// NewLadderService builds the coordinator with persistence hooks attached.
func NewLadderService(db *gorm.DB, levels *ladder.LevelTable, rules ladder.Rules, encounters ladder.EncounterAssigner) *LadderService {
	s := &LadderService{DB: db}
	s.Ladder = ladder.NewCoordinator(levels, rules, encounters, ladder.Hooks{
		PlayerCreated: s.persistNewPlayer,
		MatchCreated:  s.persistMatch,
		MatchUpdated:  s.persistMatch,
		Resolved:      s.persistResolution,
	})
	return s
}

// RestoreState rehydrates the registry from the players table and voids any
// match left in flight by the previous process. Called once at boot.
func (s *LadderService) RestoreState() error {
	var players []models.Player
	if err := s.DB.Unscoped().Find(&players).Error; err != nil {
		return err
	}
	standings := make([]ladder.Standing, 0, len(players))
	for _, p := range players {
		standings = append(standings, ladder.Standing{
			PlayerID:   p.ID,
			Level:      p.Level,
			Genes:      p.GeneBalance,
			Wins:       p.Wins,
			Losses:     p.Losses,
			WinStreak:  p.WinStreak,
			LossStreak: p.LossStreak,
			Active:     p.Active,
		})
	}
	if err := s.Ladder.Registry().Rehydrate(standings); err != nil {
		return err
	}

	// Queue and match state did not survive the restart; close the books on
	// whatever was in flight.
	now := time.Now().UTC()
	res := s.DB.Model(&models.Match{}).
		Where("status IN ('pending', 'active')").
		Updates(map[string]interface{}{"status": "completed", "voided": true, "end_time": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("⚖️ Voided %d in-flight match(es) from previous run", res.RowsAffected)
	}
	log.Printf("🧬 Restored %d player record(s) into the ladder registry", len(standings))
	return nil
}

// RequestMatch handles POST /match/request.
func (s *LadderService) RequestMatch(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)

	ticket, err := s.Ladder.RequestMatch(playerID)
	if err != nil {
		return ladderError(c, err)
	}
	if ticket.Match != nil {
		m := ticket.Match
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":       "matched",
			"match_id":     m.ID,
			"level":        m.Level,
			"opponent_id":  opponentOf(m, playerID),
			"encounter_id": m.EncounterID,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":   "queued",
		"position": ticket.Position,
	})
}

// CancelQueue handles POST /match/cancel.
func (s *LadderService) CancelQueue(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)

	m, err := s.Ladder.CancelQueue(playerID)
	if errors.Is(err, ladder.ErrAlreadyPairing) {
		// The queue already paired this player; point them at their match.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":        "pairing already completed",
			"match_id":     m.ID,
			"opponent_id":  opponentOf(&m, playerID),
			"encounter_id": m.EncounterID,
		})
	}
	if err != nil {
		return ladderError(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

// AcknowledgeMatch handles POST /match/:match_id/ack.
func (s *LadderService) AcknowledgeMatch(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)
	matchID := c.Params("match_id")

	m, err := s.Ladder.AcknowledgeStart(matchID, playerID)
	if err != nil {
		return ladderError(c, err)
	}
	return c.JSON(fiber.Map{
		"match_id": m.ID,
		"status":   m.Status,
	})
}

// ReportOutcome handles POST /match/:match_id/outcome. The route is reached
// by the gameplay simulator through the gateway; the core only checks
// structural validity of the declared winner.
func (s *LadderService) ReportOutcome(c *fiber.Ctx) error {
	matchID := c.Params("match_id")

	var req struct {
		WinnerID string `json:"winner_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	res, err := s.Ladder.ReportOutcome(matchID, req.WinnerID)
	if err != nil {
		return ladderError(c, err)
	}

	if res.Voided {
		return c.JSON(fiber.Map{
			"match_id": matchID,
			"status":   "voided",
		})
	}
	body := fiber.Map{
		"match_id":       matchID,
		"status":         "resolved",
		"winner_id":      res.WinnerID,
		"winner_balance": res.WinnerBalance,
		"winner_level":   res.WinnerLevel,
		"loser_id":       res.LoserID,
		"loser_balance":  res.LoserBalance,
		"loser_level":    res.LoserLevel,
	}
	if res.RankUnchanged {
		// Partial success: economy settled, rank change blocked by capacity.
		body["status"] = "resolved_rank_unchanged"
	}
	return c.JSON(body)
}

// GetStanding handles GET /standing.
func (s *LadderService) GetStanding(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)

	st, err := s.Ladder.GetStanding(playerID)
	if err != nil {
		return ladderError(c, err)
	}
	return c.JSON(fiber.Map{
		"player_id":   st.PlayerID,
		"level":       st.Level,
		"genes":       st.Genes,
		"wins":        st.Wins,
		"losses":      st.Losses,
		"win_streak":  st.WinStreak,
		"loss_streak": st.LossStreak,
		"state":       st.State,
	})
}

// GetLeaderboard handles GET /leaderboard and GET /leaderboard/:level.
func (s *LadderService) GetLeaderboard(c *fiber.Ctx) error {
	level, err := c.ParamsInt("level", 0)
	if err != nil || level < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid level"})
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	top, err := s.Ladder.Leaderboard(level, limit)
	if err != nil {
		return ladderError(c, err)
	}

	// Decorate with display names mirrored from the profile service.
	names := s.displayNames(top)
	entries := make([]fiber.Map, 0, len(top))
	for i, st := range top {
		entries = append(entries, fiber.Map{
			"rank":         i + 1,
			"player_id":    st.PlayerID,
			"display_name": names[st.PlayerID],
			"level":        st.Level,
			"genes":        st.Genes,
			"wins":         st.Wins,
			"losses":       st.Losses,
		})
	}
	return c.JSON(fiber.Map{
		"level":   level,
		"count":   len(entries),
		"entries": entries,
	})
}

// DeactivatePlayer handles POST /admin/players/:player_id/deactivate.
// Retired players keep their record and history but stop counting against
// level occupancy; a queued or in-match player must finish first.
func (s *LadderService) DeactivatePlayer(c *fiber.Ctx) error {
	playerID := c.Params("player_id")

	if err := s.Ladder.Deactivate(playerID); err != nil {
		return ladderError(c, err)
	}
	// The snapshot worker would pick this up anyway; retirement is rare
	// enough to persist inline.
	if err := s.DB.Model(&models.Player{}).Where("id = ?", playerID).
		Update("active", false).Error; err != nil {
		log.Printf("❌ Failed to persist deactivation of %s: %v", playerID, err)
	}
	return c.JSON(fiber.Map{
		"status":    "deactivated",
		"player_id": playerID,
	})
}

func (s *LadderService) displayNames(standings []ladder.Standing) map[string]string {
	ids := make([]string, 0, len(standings))
	for _, st := range standings {
		ids = append(ids, st.PlayerID)
	}
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out
	}
	var rows []models.Player
	if err := s.DB.Select("id", "display_name").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		log.Printf("⚠️ Failed to load display names: %v", err)
		return out
	}
	for _, r := range rows {
		out[r.ID] = r.DisplayName
	}
	return out
}

// --- persistence hooks ---

func (s *LadderService) persistNewPlayer(st ladder.Standing, grant ladder.GeneChange) {
	row := models.Player{
		ID:          st.PlayerID,
		Level:       st.Level,
		GeneBalance: st.Genes,
		MatchState:  string(st.State),
		Active:      st.Active,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&models.GeneLedgerEntry{
			ID:       uuid.NewString(),
			PlayerID: grant.PlayerID,
			Delta:    grant.Delta,
			Balance:  grant.Balance,
			Reason:   grant.Reason,
		}).Error
	})
	if err != nil {
		log.Printf("❌ Failed to persist new player %s: %v", st.PlayerID, err)
	}
}

func (s *LadderService) persistMatch(m ladder.Match) {
	row := models.Match{
		ID:          m.ID,
		Player1ID:   m.Player1ID,
		Player2ID:   m.Player2ID,
		Level:       m.Level,
		Status:      string(m.Status),
		EncounterID: m.EncounterID,
		Voided:      m.Voided,
		StartTime:   m.StartTime,
	}
	if m.WinnerID != "" {
		row.WinnerID = &m.WinnerID
	}
	if !m.EndTime.IsZero() {
		end := m.EndTime
		row.EndTime = &end
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		log.Printf("❌ Failed to persist match %s: %v", m.ID, err)
	}
}

func (s *LadderService) persistResolution(res *ladder.Result) {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		for _, gc := range res.GeneChanges {
			entry := models.GeneLedgerEntry{
				ID:       uuid.NewString(),
				PlayerID: gc.PlayerID,
				Delta:    gc.Delta,
				Balance:  gc.Balance,
				Reason:   gc.Reason,
			}
			if gc.MatchID != "" {
				matchID := gc.MatchID
				entry.MatchID = &matchID
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ Failed to persist ledger for match %s: %v", res.Match.ID, err)
	}
	s.persistMatch(res.Match)
}

func opponentOf(m *ladder.Match, playerID string) string {
	if m.Player1ID == playerID {
		return m.Player2ID
	}
	return m.Player1ID
}

// ladderError maps core errors onto the HTTP taxonomy. Capacity and pairing
// races are 409s the client should treat as retryable, not failures.
func ladderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ladder.ErrNoSuchPlayer), errors.Is(err, ladder.ErrNoSuchMatch), errors.Is(err, ladder.ErrNoSuchLevel):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ladder.ErrAlreadyQueued), errors.Is(err, ladder.ErrAlreadyInMatch),
		errors.Is(err, ladder.ErrAlreadyPairing), errors.Is(err, ladder.ErrLevelFull):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "retryable": true})
	case errors.Is(err, ladder.ErrInsufficientGenes):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ladder.ErrInvalidOutcome), errors.Is(err, ladder.ErrInvalidStateTransition),
		errors.Is(err, ladder.ErrNotQueued), errors.Is(err, ladder.ErrPlayerDeactivated):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("❌ Unhandled ladder error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
