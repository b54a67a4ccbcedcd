package ladder

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Rules hold the economy and rank-change tuning. The promotion/demotion
// trigger is deliberately configuration, not code: product has changed these
// numbers before and will again.
type Rules struct {
	EntryCost    int64 // debited from both players per encounter
	WinnerReward int64
	LoserPenalty int64 // involuntary debit, clamped at zero
	InitialGrant int64 // genes granted on first ladder entry

	PromotionStreak int // consecutive wins required to attempt level+1
	DemotionStreak  int // consecutive losses before demotion to level-1

	AckTimeout time.Duration // pending matches unacknowledged past this are voided
}

// DefaultRules matches the launch game config.
func DefaultRules() Rules {
	return Rules{
		EntryCost:       100,
		WinnerReward:    75,
		LoserPenalty:    100,
		InitialGrant:    2500,
		PromotionStreak: 3,
		DemotionStreak:  3,
		AckTimeout:      2 * time.Minute,
	}
}

// RulesFromEnv loads Rules with env overrides on top of the defaults.
func RulesFromEnv() Rules {
	r := DefaultRules()
	r.EntryCost = envInt64("LADDER_ENTRY_COST", r.EntryCost)
	r.WinnerReward = envInt64("LADDER_WINNER_REWARD", r.WinnerReward)
	r.LoserPenalty = envInt64("LADDER_LOSER_PENALTY", r.LoserPenalty)
	r.InitialGrant = envInt64("LADDER_INITIAL_GRANT", r.InitialGrant)
	r.PromotionStreak = int(envInt64("LADDER_PROMOTION_STREAK", int64(r.PromotionStreak)))
	r.DemotionStreak = int(envInt64("LADDER_DEMOTION_STREAK", int64(r.DemotionStreak)))
	if v := os.Getenv("LADDER_ACK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("⚠️  Invalid LADDER_ACK_TIMEOUT %q, keeping %s", v, r.AckTimeout)
		} else {
			r.AckTimeout = d
		}
	}
	return r
}

// LevelTableFromEnv reads LADDER_LEVEL_CAPACITIES ("1024,512,...") or falls
// back to the default table. Invalid configuration is fatal: a bad capacity
// table silently corrupts the whole ladder.
func LevelTableFromEnv() *LevelTable {
	raw := os.Getenv("LADDER_LEVEL_CAPACITIES")
	if raw == "" {
		return DefaultLevelTable()
	}
	parts := strings.Split(raw, ",")
	caps := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			log.Fatalf("❌ LADDER_LEVEL_CAPACITIES: bad entry %q: %v", p, err)
		}
		caps = append(caps, n)
	}
	t, err := NewLevelTable(caps)
	if err != nil {
		log.Fatalf("❌ LADDER_LEVEL_CAPACITIES: %v", err)
	}
	return t
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, keeping default %d", key, v, fallback)
		return fallback
	}
	return n
}
