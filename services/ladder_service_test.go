package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"darwin-ladder-service/ladder"
	"darwin-ladder-service/middleware"
	"darwin-ladder-service/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type testEnv struct {
	db  *gorm.DB
	svc *LadderService
	app *fiber.App
}

// stubTokenValidator treats the access token as the user ID so tests choose
// identities without a live auth service.
type stubTokenValidator struct{}

func (stubTokenValidator) ValidateToken(accessToken, deviceID string) (string, string, []string, error) {
	return accessToken, deviceID, nil, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	encounters := NewEncounterService(db)
	if err := encounters.SeedDefaults(); err != nil {
		t.Fatalf("seed encounters: %v", err)
	}

	svc := NewLadderService(db, ladder.DefaultLevelTable(), ladder.DefaultRules(), encounters)

	app := fiber.New()
	app.Post("/match/:match_id/outcome", svc.ReportOutcome)
	app.Get("/match/stream", middleware.SSEAuthMiddleware(stubTokenValidator{}), svc.StreamMatchEvents)
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/match/request", svc.RequestMatch)
	secured.Post("/match/cancel", svc.CancelQueue)
	secured.Post("/match/:match_id/ack", svc.AcknowledgeMatch)
	secured.Get("/standing", svc.GetStanding)
	secured.Get("/leaderboard", svc.GetLeaderboard)
	secured.Get("/leaderboard/:level", svc.GetLeaderboard)
	secured.Post("/admin/players/:player_id/deactivate", middleware.RequireRole("admin"), svc.DeactivatePlayer)

	return &testEnv{db: db, svc: svc, app: app}
}

func (e *testEnv) doWithRoles(t *testing.T, method, path, userID, roles, body string) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode body: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) (int, map[string]interface{}) {
	t.Helper()
	return e.doWithRoles(t, method, path, userID, "", body)
}

func TestRequestMatchRequiresUserHeader(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, "POST", "/match/request", "", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
}

func TestFullMatchFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, "POST", "/match/request", "alice", "")
	if code != http.StatusOK || body["status"] != "queued" {
		t.Fatalf("alice request: code=%d body=%v", code, body)
	}
	if pos, _ := body["position"].(float64); pos != 1 {
		t.Fatalf("queue position = %v, want 1", body["position"])
	}

	code, body = env.do(t, "POST", "/match/request", "bob", "")
	if code != http.StatusOK || body["status"] != "matched" {
		t.Fatalf("bob request: code=%d body=%v", code, body)
	}
	matchID, _ := body["match_id"].(string)
	if matchID == "" {
		t.Fatal("matched response missing match_id")
	}
	if body["opponent_id"] != "alice" {
		t.Fatalf("opponent_id = %v, want alice", body["opponent_id"])
	}
	if enc, _ := body["encounter_id"].(string); enc == "" {
		t.Fatal("matched response missing encounter_id")
	}

	// Both sides must acknowledge before the match goes active.
	code, body = env.do(t, "POST", "/match/"+matchID+"/ack", "alice", "")
	if code != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("first ack: code=%d body=%v", code, body)
	}
	code, body = env.do(t, "POST", "/match/"+matchID+"/ack", "bob", "")
	if code != http.StatusOK || body["status"] != "active" {
		t.Fatalf("second ack: code=%d body=%v", code, body)
	}

	code, body = env.do(t, "POST", "/match/"+matchID+"/outcome", "", `{"winner_id":"alice"}`)
	if code != http.StatusOK || body["status"] != "resolved" {
		t.Fatalf("outcome: code=%d body=%v", code, body)
	}
	if wb, _ := body["winner_balance"].(float64); wb != 2475 {
		t.Fatalf("winner_balance = %v, want 2475", body["winner_balance"])
	}
	if lb, _ := body["loser_balance"].(float64); lb != 2300 {
		t.Fatalf("loser_balance = %v, want 2300", body["loser_balance"])
	}

	// Re-reporting a settled match is rejected.
	code, _ = env.do(t, "POST", "/match/"+matchID+"/outcome", "", `{"winner_id":"bob"}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("replayed outcome: code=%d, want 422", code)
	}

	code, body = env.do(t, "GET", "/standing", "alice", "")
	if code != http.StatusOK {
		t.Fatalf("standing: code=%d body=%v", code, body)
	}
	if g, _ := body["genes"].(float64); g != 2475 {
		t.Fatalf("standing genes = %v, want 2475", body["genes"])
	}
	if w, _ := body["wins"].(float64); w != 1 {
		t.Fatalf("standing wins = %v, want 1", body["wins"])
	}
}

func TestMatchFlowPersistsToDatabase(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/match/request", "alice", "")
	_, body := env.do(t, "POST", "/match/request", "bob", "")
	matchID := body["match_id"].(string)
	env.do(t, "POST", "/match/"+matchID+"/ack", "alice", "")
	env.do(t, "POST", "/match/"+matchID+"/ack", "bob", "")
	env.do(t, "POST", "/match/"+matchID+"/outcome", "", `{"winner_id":"bob"}`)

	var playerCount int64
	if err := env.db.Model(&models.Player{}).Count(&playerCount).Error; err != nil {
		t.Fatalf("count players: %v", err)
	}
	if playerCount != 2 {
		t.Fatalf("player rows = %d, want 2", playerCount)
	}

	var m models.Match
	if err := env.db.First(&m, "id = ?", matchID).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if m.Status != "completed" || m.Voided {
		t.Fatalf("match row status=%q voided=%v, want completed settled", m.Status, m.Voided)
	}
	if m.WinnerID == nil || *m.WinnerID != "bob" {
		t.Fatalf("match winner = %v, want bob", m.WinnerID)
	}

	// Two initial grants plus two entry costs, a reward and a penalty.
	var ledgerCount int64
	if err := env.db.Model(&models.GeneLedgerEntry{}).Count(&ledgerCount).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if ledgerCount != 6 {
		t.Fatalf("ledger rows = %d, want 6", ledgerCount)
	}

	var balances []int64
	if err := env.db.Model(&models.GeneLedgerEntry{}).
		Where("player_id = ?", "bob").
		Order("created_at").
		Pluck("balance", &balances).Error; err != nil {
		t.Fatalf("load bob ledger: %v", err)
	}
	if len(balances) == 0 || balances[len(balances)-1] != 2475 {
		t.Fatalf("bob final ledger balance = %v, want 2475", balances)
	}
}

func TestCancelAfterPairingRedirectsToMatch(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/match/request", "alice", "")
	_, body := env.do(t, "POST", "/match/request", "bob", "")
	matchID := body["match_id"].(string)

	code, body := env.do(t, "POST", "/match/cancel", "alice", "")
	if code != http.StatusConflict {
		t.Fatalf("cancel after pairing: code=%d, want 409", code)
	}
	if body["match_id"] != matchID {
		t.Fatalf("redirect match_id = %v, want %s", body["match_id"], matchID)
	}
}

func TestLeaderboardOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 4; i++ {
		env.do(t, "POST", "/match/request", fmt.Sprintf("p%d", i), "")
	}
	// p0/p1 paired, p2/p3 paired; settle the first pair only.
	st, _ := env.svc.Ladder.GetStanding("p0")
	if st.State != ladder.StateInMatch {
		t.Fatalf("p0 state = %s, want in_match", st.State)
	}
	m, ok := env.svc.Ladder.ActiveMatchFor("p0")
	if !ok {
		t.Fatal("no match for p0")
	}
	env.do(t, "POST", "/match/"+m.ID+"/ack", "p0", "")
	env.do(t, "POST", "/match/"+m.ID+"/ack", "p1", "")
	env.do(t, "POST", "/match/"+m.ID+"/outcome", "", `{"winner_id":"p0"}`)

	code, body := env.do(t, "GET", "/leaderboard", "p0", "")
	if code != http.StatusOK {
		t.Fatalf("leaderboard: code=%d body=%v", code, body)
	}
	entries, _ := body["entries"].([]interface{})
	if len(entries) != 4 {
		t.Fatalf("leaderboard entries = %d, want 4", len(entries))
	}
	// p2 and p3 still sit on the untouched grant; the settled pair ranks below.
	var order []string
	for _, e := range entries {
		order = append(order, e.(map[string]interface{})["player_id"].(string))
	}
	want := []string{"p2", "p3", "p0", "p1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("leaderboard order = %v, want %v", order, want)
		}
	}
}

func TestRestoreStateRehydratesAndVoidsInFlight(t *testing.T) {
	db := newTestDB(t)

	players := []models.Player{
		{ID: "alice", DisplayName: "Alice", Level: 3, GeneBalance: 4100, Wins: 12, Losses: 4, WinStreak: 2, MatchState: "in_match", Active: true},
		{ID: "bob", DisplayName: "Bob", Level: 3, GeneBalance: 900, Wins: 7, Losses: 9, MatchState: "queued", Active: true},
	}
	for i := range players {
		if err := db.Create(&players[i]).Error; err != nil {
			t.Fatalf("seed player: %v", err)
		}
	}
	start := time.Now().UTC().Add(-time.Minute)
	if err := db.Create(&models.Match{
		ID: "m-old", Player1ID: "alice", Player2ID: "bob", Level: 3,
		Status: "active", EncounterID: "enc", StartTime: start,
	}).Error; err != nil {
		t.Fatalf("seed match: %v", err)
	}

	encounters := NewEncounterService(db)
	if err := encounters.SeedDefaults(); err != nil {
		t.Fatalf("seed encounters: %v", err)
	}
	svc := NewLadderService(db, ladder.DefaultLevelTable(), ladder.DefaultRules(), encounters)
	if err := svc.RestoreState(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	st, err := svc.Ladder.GetStanding("alice")
	if err != nil {
		t.Fatalf("standing after restore: %v", err)
	}
	if st.Level != 3 || st.Genes != 4100 || st.WinStreak != 2 {
		t.Fatalf("restored standing = %+v", st)
	}
	// Transient queue/match state never survives a restart.
	if st.State != ladder.StateIdle {
		t.Fatalf("restored state = %s, want idle", st.State)
	}

	var m models.Match
	if err := db.First(&m, "id = ?", "m-old").Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if m.Status != "completed" || !m.Voided || m.EndTime == nil {
		t.Fatalf("in-flight match not voided: status=%q voided=%v end=%v", m.Status, m.Voided, m.EndTime)
	}
}

func TestMatchStreamEmitsActiveMatchEvent(t *testing.T) {
	env := newTestEnv(t)

	old := sseTickInterval
	sseTickInterval = 10 * time.Millisecond
	defer func() { sseTickInterval = old }()

	env.do(t, "POST", "/match/request", "alice", "")
	_, body := env.do(t, "POST", "/match/request", "bob", "")
	matchID := body["match_id"].(string)
	env.do(t, "POST", "/match/"+matchID+"/ack", "alice", "")
	env.do(t, "POST", "/match/"+matchID+"/ack", "bob", "")

	req := httptest.NewRequest("GET", "/match/stream?token=alice&device_id=d1", nil)
	resp, err := env.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(raw)
	if !strings.Contains(stream, "event: match") {
		t.Fatalf("stream missing match event: %q", stream)
	}
	if !strings.Contains(stream, matchID) {
		t.Fatalf("stream missing match id %s: %q", matchID, stream)
	}
	if !strings.Contains(stream, `"status":"active"`) {
		t.Fatalf("stream missing active status: %q", stream)
	}
}

func TestMatchStreamRejectsMissingQueryParams(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/match/stream?token=alice", nil)
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeactivatePlayerAdminRoute(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/match/request", "alice", "")

	code, _ := env.doWithRoles(t, "POST", "/admin/players/alice/deactivate", "mod", "moderator", "")
	if code != http.StatusForbidden {
		t.Fatalf("non-admin deactivate: code=%d, want 403", code)
	}

	// Queued players must leave the queue before retiring.
	code, _ = env.doWithRoles(t, "POST", "/admin/players/alice/deactivate", "ops", "admin", "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("deactivate queued player: code=%d, want 422", code)
	}

	env.do(t, "POST", "/match/cancel", "alice", "")
	code, body := env.doWithRoles(t, "POST", "/admin/players/alice/deactivate", "ops", "admin", "")
	if code != http.StatusOK || body["status"] != "deactivated" {
		t.Fatalf("deactivate: code=%d body=%v", code, body)
	}

	occ, err := env.svc.Ladder.Occupancy(1)
	if err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	if occ != 0 {
		t.Fatalf("occupancy after deactivation = %d, want 0", occ)
	}

	var row models.Player
	if err := env.db.First(&row, "id = ?", "alice").Error; err != nil {
		t.Fatalf("load alice: %v", err)
	}
	if row.Active {
		t.Fatal("player row still active after deactivation")
	}

	code, _ = env.doWithRoles(t, "POST", "/admin/players/ghost/deactivate", "ops", "admin", "")
	if code != http.StatusNotFound {
		t.Fatalf("deactivate unknown player: code=%d, want 404", code)
	}
}
