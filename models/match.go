package models

import "time"

// Match records a paired competitive session between two same-level players
type Match struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	Player1ID string `gorm:"index;not null" json:"player1_id"`
	Player2ID string `gorm:"index;not null" json:"player2_id"`
	Level     int    `gorm:"not null" json:"level"` // level both players occupied when paired

	Status      string  `json:"status" gorm:"type:varchar(16);check:status IN ('pending','active','completed')"`
	EncounterID string  `gorm:"index" json:"encounter_id"`        // external gameplay round reference
	WinnerID    *string `gorm:"index" json:"winner_id,omitempty"` // nil until completed; stays nil if voided
	Voided      bool    `json:"voided" gorm:"default:false"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Timestamps
}
