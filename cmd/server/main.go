package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/api/handlers"
	"github.com/plugflow/plugflow/internal/api/middleware"
	"github.com/plugflow/plugflow/internal/engine"
	job "github.com/plugflow/plugflow/internal/jobs"
	"github.com/plugflow/plugflow/internal/limits"
	"github.com/plugflow/plugflow/internal/notifier"
	"github.com/plugflow/plugflow/internal/queue"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/service"
	"github.com/plugflow/plugflow/internal/vault"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	targetRepo := repository.NewPostTargetRepository(db)
	plugRepo := repository.NewAutoPlugRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	rateWindowRepo := repository.NewRateWindowRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)

	tokenVault := vault.New(cfg.EncryptionKey)
	limiter := limits.NewLimiter(userRepo, postRepo, plugRepo, rateWindowRepo)

	var notify notifier.Notifier = notifier.Noop{}
	if cfg.ResendAPIKey != "" {
		notify = notifier.NewEmailNotifier(cfg.ResendAPIKey, cfg.NotifyFromEmail)
	}

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo)
	r2Service := service.NewR2Service(*cfg)
	postService := service.NewPostService(db, postRepo, targetRepo, plugRepo, connectionRepo, mediaAssetRepo, postMediaRepo, r2Service)
	connectionService := service.NewConnectionService(*cfg, connectionRepo, tokenVault)
	plugService := service.NewAutoPlugService(plugRepo, postRepo)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)

	publisher := engine.NewPublisher(*cfg, postRepo, targetRepo, connectionRepo, userRepo, postMediaRepo, mediaAssetRepo, limiter, tokenVault, notify)
	plugEngine := engine.NewAutoPlugEngine(*cfg, postRepo, targetRepo, plugRepo, connectionRepo, userRepo, limiter, tokenVault, notify)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	connection := handlers.NewConnectionHandler(connectionService, *cfg)
	app.Get("/auth/:platform", connection.Connect)
	app.Get("/auth/:platform/callback", connection.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/targets", post.ListTargets)
	api.Post("/posts/remove", post.RemovePost)

	plug := handlers.NewAutoPlugHandler(plugService)
	api.Get("/plugs", plug.ListPlugs)
	api.Post("/plugs/remove", plug.RemovePlug)

	api.Post("/connections/bluesky", connection.ConnectBluesky)
	api.Get("/connections", connection.ListConnections)
	api.Post("/connections/remove", connection.DeleteConnection)

	jobs := handlers.NewJobsHandler(client)
	api.Post("/jobs/publish", jobs.TriggerPublish)
	api.Post("/jobs/engagement", jobs.TriggerEngagement)

	refreshTokenJob := job.NewTokenRefreshJob(*cfg, connectionRepo, userRepo, tokenVault, notify)

	queueW := queue.NewQueue(publisher, plugEngine)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h01m00s", func() {
		if err := queue.EnqueueCycle(client, queue.TaskTypePublishCycle, queue.CyclePayload{}); err != nil {
			log.Printf("Error enqueueing publish cycle: %v", err)
		}
	})
	c.AddFunc("@every 00h05m00s", func() {
		if err := queue.EnqueueCycle(client, queue.TaskTypeEngagementCycle, queue.CyclePayload{}); err != nil {
			log.Printf("Error enqueueing engagement cycle: %v", err)
		}
	})
	c.AddFunc("@every 01h00m00s", func() {
		before := time.Now().Add(-time.Hour)
		if err := rateWindowRepo.Prune(context.Background(), before); err != nil {
			log.Printf("Error pruning rate windows: %v", err)
		}
	})
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueW.HandlePublishPostTask)
		mux.HandleFunc(queue.TaskTypePublishCycle, queueW.HandlePublishCycleTask)
		mux.HandleFunc(queue.TaskTypeEngagementCycle, queueW.HandleEngagementCycleTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
