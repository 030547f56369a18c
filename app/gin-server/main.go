package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/claimwise/voicepipe/config"
	"github.com/claimwise/voicepipe/internal/api/handlers"
	"github.com/claimwise/voicepipe/internal/api/middleware"
	"github.com/claimwise/voicepipe/internal/api/routes"
	"github.com/claimwise/voicepipe/internal/cache"
	"github.com/claimwise/voicepipe/internal/logger"
	"github.com/claimwise/voicepipe/internal/models"
	"github.com/claimwise/voicepipe/internal/providers/crm"
	"github.com/claimwise/voicepipe/internal/providers/genai"
	"github.com/claimwise/voicepipe/internal/providers/stt"
	"github.com/claimwise/voicepipe/internal/providers/voice"
	mongorepo "github.com/claimwise/voicepipe/internal/repositories/mongo"
	pgrepo "github.com/claimwise/voicepipe/internal/repositories/postgres"
	"github.com/claimwise/voicepipe/internal/services"
	"github.com/claimwise/voicepipe/internal/storage"
	"github.com/claimwise/voicepipe/internal/workers"
)

func main() {
	_ = godotenv.Load()

	l := logger.New()
	ctx := context.Background()

	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	if err := config.PostgresDB.AutoMigrate(&models.CallRecord{}); err != nil {
		log.Fatalf("PostgreSQL migrate error: %v", err)
	}

	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}

	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}

	recordings, err := storage.NewGCSRecordingStore(ctx, os.Getenv("GCS_RECORDINGS_BUCKET"))
	if err != nil {
		log.Fatalf("GCS init error: %v", err)
	}
	defer recordings.Close()

	gemini, err := genai.NewVertexGemini(ctx,
		os.Getenv("VERTEX_PROJECT_ID"),
		os.Getenv("VERTEX_LOCATION"),
		os.Getenv("VERTEX_MODEL"),
		recordings,
	)
	if err != nil {
		log.Fatalf("Vertex init error: %v", err)
	}
	defer gemini.Close()

	speech, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		log.Fatalf("Speech init error: %v", err)
	}
	defer speech.Close()

	twilio := voice.NewTwilioClient(
		os.Getenv("TWILIO_ACCOUNT_SID"),
		os.Getenv("TWILIO_AUTH_TOKEN"),
		os.Getenv("TWILIO_FROM_NUMBER"),
		os.Getenv("PUBLIC_BASE_URL"),
	)

	crmClient := crm.NewClient(os.Getenv("CRM_BASE_URL"), os.Getenv("CRM_API_KEY"))

	redisCache := cache.NewRedisCache(config.RedisClient, "voicepipe:")
	sessions := pgrepo.NewSessionFactory(config.PostgresDB, redisCache)
	callStore := pgrepo.NewCallStore(config.PostgresDB, redisCache)
	events := mongorepo.NewCallEventRepo(config.MongoDatabase())

	callSvc := services.NewCallService(twilio, gemini, crmClient, speech, sessions, services.CallServiceConfig{
		EnableCRMWrite:     envBool("ENABLE_CRM_WRITE", true),
		PollInterval:       envDuration("POLL_INTERVAL", 3*time.Second),
		MaxPollingDuration: envDuration("MAX_POLLING_DURATION", 24*time.Hour),
	}, l)

	pool := &workers.CallEventWorkerPool{
		Redis:  config.RedisClient,
		Events: events,
		Calls:  callStore,
		Logger: l,
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker pool error: %v", err)
	}

	// hourly sweep of orphaned recording uploads
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for range t.C {
			if n, err := recordings.Sweep(ctx, 24*time.Hour); err != nil {
				l.WithError(err).Warn("recording sweep failed")
			} else if n > 0 {
				l.WithField("deleted", n).Info("swept orphaned recordings")
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(l))

	routes.RegisterRoutes(r, routes.Deps{
		Call:    handlers.NewCallHandler(callSvc, callStore),
		Webhook: handlers.NewWebhookHandler(config.RedisClient, "", l),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
