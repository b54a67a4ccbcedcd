package handlers

import (
	"darwin-ladder-service/middleware"
	"darwin-ladder-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupLadderRoutes wires the ladder surface. All routes sit behind the
// global gateway token check. Routes that must not require the
// gateway-forwarded user context are registered before the secured group so
// the user-context middleware never intercepts them.
func SetupLadderRoutes(app *fiber.App, ladderService *services.LadderService, encounterService *services.EncounterService, authClient middleware.TokenValidator) {
	// Outcome reports arrive from the gameplay simulator through the
	// gateway, not from players; the service token alone authorizes them.
	app.Post("/match/:match_id/outcome", ladderService.ReportOutcome)

	// SSE pairing notifications — EventSource can't set headers, so this
	// route authenticates via query token instead of user context.
	app.Get("/match/stream", middleware.SSEAuthMiddleware(authClient), ladderService.StreamMatchEvents)

	// 🔐 Player routes — require user context (userID, roles) from Gateway
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Post("/match/request", ladderService.RequestMatch)
	securedGroup.Post("/match/cancel", ladderService.CancelQueue)
	securedGroup.Post("/match/:match_id/ack", ladderService.AcknowledgeMatch)
	securedGroup.Get("/standing", ladderService.GetStanding)
	securedGroup.Get("/leaderboard", ladderService.GetLeaderboard)
	securedGroup.Get("/leaderboard/:level", ladderService.GetLeaderboard)
	securedGroup.Get("/encounters", encounterService.ListEncounters)

	// Admin: encounter catalog and player retirement
	securedGroup.Post("/admin/encounters", middleware.RequireRole("admin"), encounterService.CreateEncounter)
	securedGroup.Post("/admin/players/:player_id/deactivate", middleware.RequireRole("admin"), ladderService.DeactivatePlayer)
}
