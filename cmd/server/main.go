package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"

	"github.com/coldtrack/coldtrack-server/internal/api"
	"github.com/coldtrack/coldtrack-server/internal/bucketing"
	"github.com/coldtrack/coldtrack-server/internal/database"
	"github.com/coldtrack/coldtrack-server/internal/ingest"
	"github.com/coldtrack/coldtrack-server/internal/projection"
	"github.com/coldtrack/coldtrack-server/internal/queue"
	"github.com/coldtrack/coldtrack-server/internal/tenant"
	"github.com/coldtrack/coldtrack-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Coldtrack Server...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.QueryTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	// Run migrations
	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create Kafka topic for the accepted-measurement feed
	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicAccepted,
		cfg.Kafka.NumPartitions,
		1, // replication factor
	); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAccepted)
	defer producer.Close()
	fmt.Println("Kafka producer initialized")

	// Redis-backed credential cache for the ingest hot path
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var cache tenant.Cache
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		fmt.Printf("Note: Redis unavailable, tenant cache disabled: %v\n", err)
	} else {
		cache = tenant.NewRedisCache(redisClient)
		fmt.Println("Connected to Redis")
	}

	// Wire the core services
	resolver := tenant.NewResolver(db, cache, cfg.Redis.TenantTTL)
	ingestor := ingest.NewService(db, producer)
	engine := bucketing.NewEngine(db, cfg.Query.UTCOffsetHours, cfg.Query.CalendarSensors, cfg.Query.DropTrailingSingleton)
	projector := projection.NewProjector(cfg.Query.PrimaryField)

	router := api.NewRouter(api.NewHandlers(resolver, ingestor, engine, db, projector))

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.HTTP.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-API-Key"}),
	)
	logged := handlers.LoggingHandler(os.Stdout, cors(router))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      logged,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		fmt.Printf("HTTP API listening on :%d\n", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	fmt.Println("Server stopped")
}
