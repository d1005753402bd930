package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoovoice/config"
	"github.com/yoockh/yoovoice/internal/api/handlers"
	"github.com/yoockh/yoovoice/internal/api/middleware"
	"github.com/yoockh/yoovoice/internal/api/routes"
	"github.com/yoockh/yoovoice/internal/cache"
	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/logger"
	mongorepo "github.com/yoockh/yoovoice/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoovoice/internal/repositories/postgres"
	"github.com/yoockh/yoovoice/internal/services"
	"github.com/yoockh/yoovoice/internal/voice"
	"github.com/yoockh/yoovoice/internal/workers"
)

func main() {
	_ = godotenv.Load()

	s := config.LoadSettings()
	log := logger.NewWithOutput(os.Stdout, s.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := interviewapi.NewClient(s.InterviewAPIURL, interviewapi.NewPooledHTTPClient(s.InterviewAPIPool, s.InterviewAPITimeout))

	deps := services.InterviewDeps{
		Backend:      client,
		Decoder:      voice.WAVDecoder{},
		Logger:       log,
		MaxClipBytes:  s.MaxClipBytes,
		SnapshotTTL:   s.SnapshotTTL,
		AttachTimeout: s.AttachTimeout,
	}
	rd := routes.Deps{}

	// MongoDB: interview session records
	if db, err := config.InitMongo(s); err == nil {
		if err := config.EnsureMongoIndexes(db); err != nil {
			log.WithError(err).Warn("mongo indexes not ensured")
		}
		deps.Sessions = mongorepo.NewSessionRepo(db)
		log.Info("MongoDB connected")
	} else if !errors.Is(err, config.ErrNotConfigured) {
		log.WithError(err).Fatal("MongoDB init error")
	} else {
		log.Warn("MONGO_URI not set, session records disabled")
	}

	// PostgreSQL: transcript archive and profiles
	if db, err := config.InitPostgres(s); err == nil {
		if err := config.MigratePostgres(db); err != nil {
			log.WithError(err).Fatal("PostgreSQL migration error")
		}
		convos := services.NewConversationService(pgrepo.NewConversationRepo(db))
		profiles := services.NewProfileService(pgrepo.NewProfileRepo(db))
		deps.Conversations = convos
		deps.Profiles = profiles
		rd.Conversation = handlers.NewConversationHandler(convos)
		rd.Profile = handlers.NewProfileHandler(profiles)
		log.Info("PostgreSQL connected")
	} else if !errors.Is(err, config.ErrNotConfigured) {
		log.WithError(err).Fatal("PostgreSQL init error")
	} else {
		log.Warn("POSTGRES_URI not set, transcript archive and replay disabled")
	}

	// Redis: snapshot cache and history outbox
	detached := &interviewapi.DetachedBeacon{Client: client, Timeout: s.InterviewAPITimeout, Logger: log}
	deps.Beacon = detached
	if rdb, err := config.InitRedis(s); err == nil {
		deps.Cache = cache.NewRedisCache(rdb)

		outbox := &workers.HistoryOutbox{
			Redis:      rdb,
			Saver:      client,
			NumWorkers: s.BeaconWorkers,
			Fallback:   detached,
			Logger:     log,
			Stream:     s.BeaconStream,
			Timeout:    s.InterviewAPITimeout,
		}
		if err := outbox.Start(ctx); err != nil {
			log.WithError(err).Fatal("history outbox start error")
		}
		deps.Beacon = outbox
		log.Info("Redis connected")
	} else if !errors.Is(err, config.ErrNotConfigured) {
		log.WithError(err).Fatal("Redis init error")
	} else {
		log.Warn("REDIS_ADDR not set, using in-process history delivery")
	}

	svc := services.NewInterviewService(deps)
	go svc.RunReaper(ctx, 30*time.Second)
	rd.Session = handlers.NewSessionHandler(svc)
	rd.WS = handlers.NewWSHandler(svc, log)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, rd)

	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", s.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	shutdown(srv, svc, detached, log)
}

func shutdown(srv *http.Server, svc services.InterviewService, detached *interviewapi.DetachedBeacon, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	// hijacked websockets outlive srv.Shutdown; their sessions end here
	if n := svc.Shutdown(ctx); n > 0 {
		log.WithField("sessions", n).Info("live sessions torn down")
	}
	if err := detached.Wait(ctx); err != nil {
		log.WithError(err).Warn("history deliveries still in flight")
	}
	if config.RedisClient != nil {
		_ = config.RedisClient.Close()
	}
	if err := config.ClosePostgres(); err != nil {
		log.WithError(err).Warn("postgres close")
	}
	if err := config.CloseMongo(ctx); err != nil {
		log.WithError(err).Warn("mongo close")
	}
	log.Info("server stopped")
}
