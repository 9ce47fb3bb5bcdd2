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

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/api/handlers"
	"github.com/forumgram/publisher/internal/instagram"
	job "github.com/forumgram/publisher/internal/jobs"
	"github.com/forumgram/publisher/internal/locks"
	"github.com/forumgram/publisher/internal/queue"
	"github.com/forumgram/publisher/internal/render"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/internal/scheduler"
	"github.com/forumgram/publisher/internal/server"
	"github.com/forumgram/publisher/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
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

	accountRepo := repository.NewAccountRepository(db)
	itemRepo := repository.NewContentItemRepository(db)
	historyRepo := repository.NewPublishHistoryRepository(db)

	lockRegistry := locks.NewRegistry()
	graphClient := instagram.NewClient(*cfg)
	renderer := render.NewHTTPRenderer(cfg.RendererURL)

	mediaService := service.NewMediaService(*cfg)
	tokenService := service.NewTokenService(*cfg, accountRepo, graphClient)
	contentService := service.NewContentService(itemRepo, accountRepo, renderer, mediaService)
	batchService := service.NewBatchService(itemRepo, accountRepo)
	publishService := service.NewPublishService(*cfg, itemRepo, accountRepo, historyRepo, graphClient, mediaService, tokenService, lockRegistry)
	accountService := service.NewAccountService(*cfg, accountRepo, historyRepo)

	health := handlers.NewHealthHandler()
	app.Get("/health", health.Health)

	api := app.Group("/api")

	item := handlers.NewItemHandler(contentService)
	api.Get("/items/:id", item.GetItem)
	api.Post("/items/:id/retry", item.RetryItem)
	api.Post("/items/:id/cancel", item.CancelItem)
	api.Delete("/items/:id", item.RemoveItem)

	account := handlers.NewAccountHandler(accountService, tokenService)
	api.Post("/accounts", account.RegisterAccount)
	api.Get("/accounts", account.ListAccounts)
	api.Get("/accounts/:id", account.GetAccount)
	api.Post("/accounts/:id/items", item.EnqueueItem)
	api.Get("/accounts/:id/items", item.ListItems)
	api.Get("/accounts/:id/history", account.GetHistory)
	api.Post("/accounts/:id/token/refresh", account.RefreshToken)
	api.Post("/accounts/:id/deactivate", account.DeactivateAccount)

	// cron jobs
	refreshTokenJob := job.NewtokenRefreshJob(tokenService)
	pipelineJob := job.NewPipelineJob(accountRepo, itemRepo, contentService, batchService, client)
	retryJob := job.NewRetryJob(*cfg, itemRepo, accountRepo, contentService, client)

	//queue
	queueW := queue.NewQueue(contentService, publishService)

	sched := scheduler.NewCronScheduler()
	sched.Every(time.Minute, pipelineJob.Run)
	sched.Every(5*time.Minute, retryJob.RetryFailedItems)
	sched.Daily("03:00", refreshTokenJob.RefreshTokens)
	sched.Start()

	go func() {
		asynqServer := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeRenderItem, queueW.HandleRenderItemTask)
		mux.HandleFunc(queue.TaskTypePublishItem, queueW.HandlePublishItemTask)
		mux.HandleFunc(queue.TaskTypePublishCarousel, queueW.HandlePublishCarouselTask)

		log.Println("Starting the Asynq server...")
		if err := asynqServer.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	socket := server.NewSocketServer(*cfg, publishService)
	go func() {
		log.Printf("Socket server listening on %s:%d", cfg.SocketHost, cfg.SocketPort)
		if err := socket.Listen(); err != nil {
			log.Fatalf("Failed to start socket server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HealthPort)); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on http://localhost:%d", cfg.HealthPort)

	gracefulShutdown(app, db, sched, socket)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, sched scheduler.Scheduler, socket *server.SocketServer) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := socket.Shutdown(ctx); err != nil {
		log.Printf("Socket server shutdown: %v", err)
	}

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
