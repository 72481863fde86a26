package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ukydev/taxi-maintenance/internal/auth"
	"github.com/ukydev/taxi-maintenance/internal/config"
	"github.com/ukydev/taxi-maintenance/internal/db"
	"github.com/ukydev/taxi-maintenance/internal/fleet"
	"github.com/ukydev/taxi-maintenance/internal/handlers"
	"github.com/ukydev/taxi-maintenance/internal/middleware"
	"github.com/ukydev/taxi-maintenance/internal/persistence"
)

func main() {
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.Health)

	var authService *auth.Service
	var resolve handlers.StoreResolver

	if cfg.Remote() {
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to MongoDB")
		}
		defer client.Disconnect(context.Background())
		log.Info("connected to MongoDB, running in cloud mode")

		authService, err = auth.NewService(cfg.JWTSecret, cfg.TokenExpiry)
		if err != nil {
			log.WithError(err).Fatal("auth service unavailable")
		}
		users := &db.MongoUserCollection{
			Collection: client.Database(cfg.MongoDatabase).Collection("users"),
		}
		authHandler := handlers.NewAuthHandler(authService, users)
		rl := middleware.NewRateLimitMiddleware()
		mux.Handle("POST /api/auth/login",
			rl.RateLimit(10, 60)(http.HandlerFunc(authHandler.Login)))
		mux.Handle("POST /api/auth/register",
			rl.RateLimit(5, 60)(http.HandlerFunc(authHandler.Register)))

		resolve = remoteResolver(ctx, client, cfg.MongoDatabase)
	} else {
		local, err := persistence.NewLocalStore(cfg.LocalPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open local store")
		}
		log.WithField("path", cfg.LocalPath).Info("running in local mode")

		store, err := fleet.NewStore(ctx, local)
		if err != nil {
			log.WithError(err).Fatal("failed to start fleet store")
		}
		defer store.Close()
		resolve = func(context.Context, string) (*fleet.Store, error) {
			return store, nil
		}
	}

	handlers.NewFleetHandler(resolve).Register(mux)

	authMW := middleware.NewAuthMiddleware(authService)
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: authMW.Authenticate(mux),
	}

	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown was not clean")
		os.Exit(1)
	}
}

// remoteResolver hands out one long-lived fleet store per owner, each with
// its own change-stream subscription. Stores live for the process lifetime.
func remoteResolver(ctx context.Context, client *mongo.Client, database string) handlers.StoreResolver {
	var mu sync.Mutex
	stores := make(map[string]*fleet.Store)
	return func(_ context.Context, ownerID string) (*fleet.Store, error) {
		mu.Lock()
		defer mu.Unlock()
		if store, ok := stores[ownerID]; ok {
			return store, nil
		}
		backend := persistence.NewRemoteStore(client, database, ownerID)
		store, err := fleet.NewStore(ctx, backend)
		if err != nil {
			return nil, err
		}
		stores[ownerID] = store
		return store, nil
	}
}
