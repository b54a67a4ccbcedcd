package services

import (
	"log"
	"sort"
	"sync"

	"darwin-ladder-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// EncounterService owns the catalog of gameplay round templates. The ladder
// only consults it to stamp a match with an encounter; scoring stays with the
// external simulator.
type EncounterService struct {
	DB *gorm.DB

	mu    sync.RWMutex
	cache []models.EncounterTemplate // enabled templates, hardest first
}

func NewEncounterService(db *gorm.DB) *EncounterService {
	return &EncounterService{DB: db}
}

// defaultTemplates seed the catalog on first boot.
var defaultTemplates = []models.EncounterTemplate{
	{Name: "Primordial Soup", Type: "survival", Difficulty: 1, LevelRequirement: 1},
	{Name: "Tide Pool Scramble", Type: "survival", Difficulty: 2, LevelRequirement: 2},
	{Name: "Cambrian Sprint", Type: "race", Difficulty: 3, LevelRequirement: 3},
	{Name: "Predator Gauntlet", Type: "duel", Difficulty: 5, LevelRequirement: 5},
	{Name: "Ice Age Endurance", Type: "survival", Difficulty: 7, LevelRequirement: 7},
	{Name: "Apex Dominion", Type: "duel", Difficulty: 9, LevelRequirement: 9},
}

// SeedDefaults inserts the default templates when the catalog is empty and
// warms the cache either way.
func (s *EncounterService) SeedDefaults() error {
	var count int64
	if err := s.DB.Model(&models.EncounterTemplate{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		for _, t := range defaultTemplates {
			t.ID = uuid.NewString()
			t.Slug = slug.Make(t.Name)
			t.Enabled = true
			if err := s.DB.Create(&t).Error; err != nil {
				return err
			}
		}
		log.Printf("🌱 Seeded %d encounter template(s)", len(defaultTemplates))
	}
	return s.Reload()
}

// Reload refreshes the in-memory catalog from the DB. Pairing reads the
// cache; a stale catalog is acceptable, a DB round-trip per pairing is not.
func (s *EncounterService) Reload() error {
	var templates []models.EncounterTemplate
	if err := s.DB.Where("enabled = ?", true).Find(&templates).Error; err != nil {
		return err
	}
	sort.Slice(templates, func(i, j int) bool {
		if templates[i].LevelRequirement != templates[j].LevelRequirement {
			return templates[i].LevelRequirement > templates[j].LevelRequirement
		}
		return templates[i].Difficulty > templates[j].Difficulty
	})
	s.mu.Lock()
	s.cache = templates
	s.mu.Unlock()
	return nil
}

// Assign picks the hardest template the level qualifies for. Implements
// ladder.EncounterAssigner.
func (s *EncounterService) Assign(level int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.cache {
		if t.LevelRequirement <= level {
			return t.ID
		}
	}
	return ""
}

// ListEncounters handles GET /encounters. Optional ?level= filters to
// templates the level qualifies for.
func (s *EncounterService) ListEncounters(c *fiber.Ctx) error {
	level := c.QueryInt("level", 0)

	s.mu.RLock()
	templates := make([]models.EncounterTemplate, 0, len(s.cache))
	for _, t := range s.cache {
		if level == 0 || t.LevelRequirement <= level {
			templates = append(templates, t)
		}
	}
	s.mu.RUnlock()

	return c.JSON(fiber.Map{
		"count":      len(templates),
		"encounters": templates,
	})
}

// CreateEncounter handles POST /admin/encounters.
func (s *EncounterService) CreateEncounter(c *fiber.Ctx) error {
	var req struct {
		Name             string `json:"name"`
		Type             string `json:"type"`
		Difficulty       int    `json:"difficulty"`
		LevelRequirement int    `json:"level_requirement"`
		ConfigJSON       string `json:"config,omitempty"`
		ScoringJSON      string `json:"scoring,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Name == "" || req.Type == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name and type are required"})
	}
	if req.Difficulty < 1 {
		req.Difficulty = 1
	}
	if req.LevelRequirement < 1 {
		req.LevelRequirement = 1
	}

	t := models.EncounterTemplate{
		ID:               uuid.NewString(),
		Slug:             slug.Make(req.Name),
		Name:             req.Name,
		Type:             req.Type,
		Difficulty:       req.Difficulty,
		LevelRequirement: req.LevelRequirement,
		ConfigJSON:       req.ConfigJSON,
		ScoringJSON:      req.ScoringJSON,
		Enabled:          true,
	}
	if err := s.DB.Create(&t).Error; err != nil {
		log.Printf("DB Error creating encounter template: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create encounter"})
	}
	if err := s.Reload(); err != nil {
		log.Printf("⚠️ Catalog reload after create failed: %v", err)
	}
	return c.Status(201).JSON(t)
}
