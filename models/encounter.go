package models

// EncounterTemplate describes a playable gameplay round. The ladder core only
// cares about the level requirement when assigning one to a match; config and
// scoring stay opaque and are interpreted by the external gameplay simulator.
type EncounterTemplate struct {
	ID   string `gorm:"primaryKey;type:uuid" json:"id"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`
	Name string `gorm:"type:varchar(128);not null" json:"name"`

	Type             string `json:"type" gorm:"type:varchar(32);not null"`
	Difficulty       int    `json:"difficulty" gorm:"default:1"`
	LevelRequirement int    `json:"level_requirement" gorm:"default:1;index"` // minimum ladder level eligible

	ConfigJSON  string `json:"config,omitempty" gorm:"type:jsonb"`
	ScoringJSON string `json:"scoring,omitempty" gorm:"type:jsonb"`

	Enabled bool `json:"enabled" gorm:"default:true"`

	Timestamps
}
