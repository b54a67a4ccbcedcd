// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartExpiryScheduler voids matches that were never acknowledged within the
// acknowledgment timeout and releases their players back into the pool. The
// persistence hook on the coordinator takes care of the DB rows.
func (s *LadderService) StartExpiryScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			voided := s.Ladder.ExpirePending(time.Now())
			if len(voided) > 0 {
				log.Printf("⏲️ [Scheduler] Voided %d unacknowledged match(es)", len(voided))
			}
		}),
	)
}
