// LLM gateway server.
//
// The gateway sits between a chat application and one or more
// OpenAI-compatible inference backends: it keeps a registry of which
// backend serves which model (with heartbeat-based availability), builds
// token-bounded conversation contexts, and proxies streaming and
// non-streaming completion calls.
//
// CLI Usage:
//
//	--create-token="user-id"
//	  Prints a signed access token for the given user ID and exits.
//	  Requires LLM_API_SECRET.
//
//	--skip-sync
//	  Skips the initial model sync against the configured backends.
//
// Environment Variables:
//   - PORT: HTTP listen port (default 8080)
//   - MODEL_SERVICE_URLS: comma-separated backend base URLs
//   - DEFAULT_SERVICE_URL: backend for models without an explicit URL
//   - HEARTBEAT_INTERVAL_SECONDS: pause between availability sweeps
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: cache / telemetry store
//   - LLM_API_SECRET: secret signing gateway access tokens
//   - DISABLE_AUTH: set to "true" or "1" to skip token validation
//   - DEFAULT_SYSTEM_PROMPT: system message for bare conversations
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"llm-gateway/internal/app"
	"llm-gateway/internal/auth"
	"llm-gateway/internal/cache"
	"llm-gateway/internal/chat"
	"llm-gateway/internal/config"
	"llm-gateway/internal/proxy"
	"llm-gateway/internal/registry"
	"llm-gateway/internal/store"
	"llm-gateway/internal/telemetry"
	"llm-gateway/internal/tokens"
)

// loadEnvFile loads environment variables from a .env file if present.
// It attempts to load from the current directory and parent directories
// up to the root directory.
func loadEnvFile() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env file in current directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		log.Printf("Warning: Could not determine current directory: %v", err)
		return
	}

	for dir := filepath.Dir(workDir); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("Loaded environment variables from %s", envPath)
		}
		return
	}
}

func main() {
	createToken := flag.String("create-token", "", "print an access token for the given user ID and exit")
	skipSync := flag.Bool("skip-sync", false, "skip the initial model sync")
	flag.Parse()

	loadEnvFile()
	cfg := config.Get()

	if *createToken != "" {
		if cfg.APISecret == "" {
			log.Fatal("LLM_API_SECRET must be set to create tokens")
		}
		token, err := auth.CreateAccessToken(*createToken, cfg.APISecret)
		if err != nil {
			log.Fatalf("creating token failed: %v", err)
		}
		fmt.Println(token)
		return
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cacheSvc := cache.NewService(cache.NewRedisStore(redisClient))

	modelStore := store.NewModels()
	messageStore := store.NewMessages()

	reg := registry.New(modelStore, cacheSvc, cfg.BackendURLs, cfg.DefaultBackendURL)
	estimator := tokens.NewEstimator()
	chatSvc := chat.NewService(messageStore, cacheSvc, estimator, cfg.DefaultSystemPrompt)
	proxySvc := proxy.NewService(reg)
	publisher := telemetry.NewPublisher(redisClient)

	application := app.NewApp(reg, chatSvc, proxySvc, publisher, cfg.APISecret, cfg.DisableAuth)

	if !*skipSync {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if result, err := reg.SyncWithBackends(ctx); err != nil {
			log.Printf("initial model sync failed: %v", err)
		} else {
			log.Printf("initial model sync: %d added, %d updated", result.Added, result.Updated)
		}
		cancel()
	}

	reg.StartHeartbeat(time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: application.Router,
	}

	go func() {
		log.Printf("gateway listening on :%s (backends: %v)", cfg.Port, cfg.BackendURLs)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	reg.StopHeartbeat()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("gateway stopped")
}
