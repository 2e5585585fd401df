package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/conference"
	"github.com/songjam/rooms-server/internal/config"
	"github.com/songjam/rooms-server/internal/database"
	"github.com/songjam/rooms-server/internal/handler"
	"github.com/songjam/rooms-server/internal/jobs"
	"github.com/songjam/rooms-server/internal/middleware"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/repository"
	"github.com/songjam/rooms-server/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := database.EnsureSchema(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	roomRepo := repository.NewRoomRepository(db.DB)
	sessionRepo := repository.NewRoomSessionRepository(db.DB)
	participantRepo := repository.NewParticipantRepository(db.DB)
	requestRepo := repository.NewSpeakerRequestRepository(db.DB)

	broker := pubsub.NewBroker(redisClient)
	defer broker.Close()

	providers := conference.Registry{
		model.ProviderSFU: conference.NewSFUProvider(conference.SFUConfig{
			BaseURL:   cfg.SFUBaseURL,
			AccessKey: cfg.SFUAccessKey,
			Secret:    cfg.SFUSecret,
			TokenTTL:  cfg.TokenTTL(),
		}),
		model.ProviderMesh: conference.NewMeshProvider(conference.MeshConfig{
			BaseURL: cfg.MeshBaseURL,
			APIKey:  cfg.MeshAPIKey,
		}),
	}

	userService := service.NewUserService(userRepo)
	roomService := service.NewRoomService(db, roomRepo, sessionRepo, participantRepo, providers, broker)
	rosterService := service.NewRosterService(roomRepo, participantRepo, sessionRepo, broker)
	requestService := service.NewSpeakerRequestService(roomRepo, requestRepo, participantRepo, providers, broker)

	authMiddleware := middleware.NewAuthMiddleware(userRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	authHandler := handler.NewAuthHandler(userService)
	roomHandler := handler.NewRoomHandler(roomService, rosterService, requestService)
	eventsHandler := handler.NewEventsHandler(broker, roomService, rosterService)
	wsHandler := handler.NewWSHandler(broker, roomService, rosterService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", authHandler.Register)

		r.Route("/rooms", func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Use(rateLimitMiddleware.Handler)

			// streaming endpoints sit outside the request timeout
			r.Get("/live/events", eventsHandler.LiveEvents)
			r.Get("/{roomID}/events", eventsHandler.RoomEvents)
			r.Get("/{roomID}/ws", wsHandler.RoomSocket)

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
				roomHandler.Register(r)
			})
		})
	})

	cleanupJob := jobs.NewCleanupJob(
		roomRepo, sessionRepo, requestRepo, broker,
		cfg.RequestTTL(), cfg.RoomAbandonAfter(), config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
