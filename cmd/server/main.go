package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/config"
	"github.com/thumbgen/tracker/internal/handler"
	"github.com/thumbgen/tracker/internal/logging"
	"github.com/thumbgen/tracker/internal/middleware"
	"github.com/thumbgen/tracker/internal/service"
	"github.com/thumbgen/tracker/internal/validation"
	ws "github.com/thumbgen/tracker/internal/websocket"
	"github.com/thumbgen/tracker/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", nil)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.Log.Level, nil)
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open log file")
		}
		defer f.Close()
		log = logging.New(cfg.Log.Level, f)
	}

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Storage: R2 when configured, local directory otherwise
	var storage client.StorageClient
	var localDir string
	if cfg.R2.Enabled() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create R2 client")
		}
		storage = r2Client
		log.Info().Str("bucket", cfg.R2.BucketName).Msg("storing files in R2")
	} else {
		local, err := client.NewLocalStorage(cfg.Storage.Dir, cfg.Server.PublicURL+"/files")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create local storage")
		}
		storage = local
		localDir = local.Dir()
		log.Info().Str("dir", localDir).Msg("storing files locally")
	}

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Initialize services
	thumbnailService := service.NewThumbnailService(service.NewRedisJobStore(redisClient), storage, asynqClient, hub, log)
	userService := service.NewUserService(service.NewRedisUserStore(redisClient), cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(userService, validator.New())
	uploadHandler := handler.NewUploadHandler(thumbnailService, validation.New())
	jobHandler := handler.NewJobHandler(thumbnailService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             validation.MaxRequestBody,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis": redisClient.Ping(c.UserContext()).Err() == nil,
				"r2":    cfg.R2.Enabled(),
			},
		})
	})

	// User routes
	users := app.Group("/api/users")
	users.Post("/sign-up", authHandler.SignUp)
	users.Post("/sign-in", authHandler.SignIn)

	// Job routes
	jobs := app.Group("/api/jobs", authMiddleware.Authenticate())
	jobs.Post("/uploads", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), uploadHandler.Upload)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/thumbnail", jobHandler.Thumbnail)

	// Stored originals and thumbnails
	if localDir != "" {
		app.Static("/files", localDir)
	}

	// WebSocket route: the credential is checked before the upgrade
	app.Use("/ws", authMiddleware.AuthenticateUpgrade(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("userId").(string)
		hub.HandleConnection(c, userID, jobHandler.SubscribeCheck(userID))
	}))

	// Start Asynq worker server
	workerServer := newWorkerServer(cfg, redisOpt, log)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeThumbnail, worker.NewThumbnailWorker(thumbnailService, log).ProcessTask)
	if err := workerServer.Start(mux); err != nil {
		log.Error().Err(err).Msg("asynq worker failed to start")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		workerServer.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log zerolog.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Log.Level, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Log.Level, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Log.Level, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				service.QueueThumbnails: 1,
			},
			LogLevel: asynqLogLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().Err(err).Str("task", task.Type()).Msg("task failed")
			}),
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
