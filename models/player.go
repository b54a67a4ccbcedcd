package models

import (
	"time"

	"gorm.io/gorm"
)

// Player is the durable record of a ladder participant (denormalized from the
// in-memory registry, which is authoritative at runtime)
type Player struct {
	ID          string `gorm:"primaryKey" json:"id"` // external user ID from the identity service
	DisplayName string `gorm:"type:varchar(128)" json:"display_name"`

	// Ladder standing
	Level       int   `json:"level" gorm:"default:1;index"`
	GeneBalance int64 `json:"gene_balance" gorm:"default:0"`
	Wins        int64 `json:"wins" gorm:"default:0"`
	Losses      int64 `json:"losses" gorm:"default:0"`

	// Streak counters feeding the promotion/demotion rule
	WinStreak  int `json:"win_streak" gorm:"default:0"`
	LossStreak int `json:"loss_streak" gorm:"default:0"`

	MatchState string `json:"match_state" gorm:"type:varchar(16);default:'idle';check:match_state IN ('idle','queued','in_match')"`
	Active     bool   `json:"active" gorm:"default:true"` // players are deactivated, never deleted

	LastMatchAt *time.Time `json:"last_match_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
