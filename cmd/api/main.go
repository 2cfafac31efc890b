package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stagehand/api/internal/app"
	"stagehand/api/internal/config"
	"stagehand/api/internal/realtime"
	"stagehand/api/internal/search"
	"stagehand/api/internal/session"
	"stagehand/api/internal/stage"
	"stagehand/api/internal/store"
	"stagehand/api/internal/upload"
)

// catalog is what the server needs from whichever asset store is active.
type catalog interface {
	store.AssetGetter
	search.AssetLister
	upload.Catalog
	realtime.RoleLookup
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	demo := store.NewMemoryStore(store.DemoAssets(time.Now())...)
	var (
		data     catalog              = demo
		assets   realtime.AssetSource = demo
		fallback search.Searcher      = search.NewListSearch(demo)
		checks   []app.Check
	)

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		var migrations fs.FS = store.Migrations()
		if cfg.MigrationsDir != "" {
			migrations = os.DirFS(cfg.MigrationsDir)
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		pg := store.NewPostgresStore(db)
		data = pg
		assets = store.FallbackAssets{Primary: pg, Secondary: demo}
		fallback = search.NewPgSearch(db)
		checks = append(checks, app.Check{Name: "database", Pinger: pg})
	} else {
		log.Printf("DATABASE_URL not set, serving the built-in demo catalog")
	}

	var roles realtime.RoleLookup = data
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, data, cfg.RoleCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		roles = redisStore
		checks = append(checks, app.Check{Name: "redis", Pinger: redisStore})
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)
	searchService.Reindex(ctx, data)

	var uploads *upload.Service
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		blobs, err := upload.NewMinIOStore(ctx, upload.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		})
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		uploads = upload.NewService(blobs, data, searchService)
		checks = append(checks, app.Check{Name: "minio", Pinger: blobs})
	} else {
		log.Printf("MINIO_ENDPOINT not set, uploads disabled")
	}

	hub := realtime.NewHub(
		stage.NewStore(cfg.HistoryLimit, cfg.AuditLimit),
		assets,
		realtime.NewResolver(roles),
		realtime.Options{
			Secret:                   []byte(cfg.JWTSecret),
			AllowedOrigin:            cfg.CORSOrigin,
			ReleaseLocksOnDisconnect: cfg.ReleaseLocksOnDisconnect,
			SendBuffer:               cfg.SendBuffer,
		},
	)

	service := app.New(cfg, hub, searchService, uploads, checks...)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.MaxUploadBytes)
	// No WriteTimeout: websocket pumps manage their own deadlines and
	// uploads can be slow.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Stagehand API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
