package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"darwin-ladder-service/ladder"

	"github.com/gofiber/fiber/v2"
)

// sseTickInterval is how often the stream re-checks the player's match.
var sseTickInterval = 2 * time.Second

// StreamMatchEvents streams pairing and match-status updates for the
// authenticated player over SSE. Queued clients hold this open instead of
// polling /match/request; the stream closes once the match goes active and
// the client hands off to the gameplay simulator.
func (s *LadderService) StreamMatchEvents(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	// Use fasthttp stream writer (THIS replaces Flush)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(sseTickInterval)
		defer ticker.Stop()

		var lastMatchID string
		var lastStatus ladder.MatchStatus

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				m, ok := s.Ladder.ActiveMatchFor(playerID)
				if !ok {
					// Periodic keepalive so intermediaries keep the stream open.
					if _, err := w.WriteString(":\n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						return
					}
					continue
				}

				if m.ID == lastMatchID && m.Status == lastStatus {
					continue
				}
				lastMatchID = m.ID
				lastStatus = m.Status

				payload, _ := json.Marshal(fiber.Map{
					"match_id":     m.ID,
					"status":       m.Status,
					"level":        m.Level,
					"opponent_id":  opponentOf(&m, playerID),
					"encounter_id": m.EncounterID,
				})
				fmt.Fprintf(w, "event: match\ndata: %s\n\n", payload)

				// This is the REAL "flush"
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

				if m.Status == ladder.StatusActive {
					// Hand-off complete; clients re-subscribe next time they queue.
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
