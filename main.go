package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"darwin-ladder-service/handlers"
	"darwin-ladder-service/ladder"
	"darwin-ladder-service/middleware"
	"darwin-ladder-service/models"
	"darwin-ladder-service/services"
	"darwin-ladder-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Player{},
		&models.Match{},
		&models.GeneLedgerEntry{},
		&models.EncounterTemplate{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	levels := ladder.LevelTableFromEnv()
	rules := ladder.RulesFromEnv()

	encounterService := services.NewEncounterService(db)
	if err := encounterService.SeedDefaults(); err != nil {
		log.Fatal("failed to seed encounter catalog:", err)
	}

	ladderService := services.NewLadderService(db, levels, rules, encounterService)
	if err := ladderService.RestoreState(); err != nil {
		log.Fatal("failed to restore ladder state:", err)
	}

	// --- External auth service for SSE token validation ---
	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("LADDER_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("LADDER_SERVICE_TOKEN environment variable not set")
	}
	authClient := services.NewAuthServiceClient(authServiceURL, serviceToken)

	// --- Profile sync for leaderboard display names ---
	syncServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if syncServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	profileWorker := workers.NewProfileSyncWorker(db, syncServiceURL, "/api/v1/public/profiles", serviceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshotter := workers.NewStandingSnapshotter(db, ladderService.Ladder.Registry())
	go workers.PollStandings(ctx, snapshotter, 10*time.Second)

	profileWorker.Start(ctx)

	ladderService.StartExpiryScheduler()

	// ✅ Setup routes — enforced Gateway auth everywhere
	handlers.SetupLadderRoutes(app, ladderService, encounterService, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Printf("✅ Ladder online: %d levels, entry cost %d, reward %d, penalty %d",
		levels.MaxLevel(), rules.EntryCost, rules.WinnerReward, rules.LoserPenalty)
	log.Println("✅ Standing snapshot worker running (every 10s)")
	log.Println("✅ Profile Sync Worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
