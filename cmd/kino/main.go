// Command kino runs the media-catalog backend: the multipart ingestion
// and range streaming cores plus the catalog, auth, reactions, genres,
// push and dashboard APIs around them.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/reelworks/kino/internal/auth"
	"github.com/reelworks/kino/internal/blob"
	"github.com/reelworks/kino/internal/catalog"
	"github.com/reelworks/kino/internal/config"
	"github.com/reelworks/kino/internal/dashboard"
	"github.com/reelworks/kino/internal/genres"
	"github.com/reelworks/kino/internal/logger"
	"github.com/reelworks/kino/internal/metrics"
	"github.com/reelworks/kino/internal/push"
	"github.com/reelworks/kino/internal/ratelimit"
	"github.com/reelworks/kino/internal/reactions"
	"github.com/reelworks/kino/internal/respond"
	"github.com/reelworks/kino/internal/stream"
	"github.com/reelworks/kino/internal/telemetry"
)

// version is stamped at build time with -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := telemetry.Init(cfg.SentryDSN, version); err != nil {
		log.Warn("sentry init failed", "err", err)
	}
	defer telemetry.Flush()

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("postgres open failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Error("postgres ping failed", "err", err)
		os.Exit(1)
	}

	var blobs blob.Store
	if cfg.HasBlobStore() {
		s3, err := blob.NewS3(blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Root:      cfg.S3RootFolder,
		})
		if err != nil {
			log.Error("blob store init failed", "err", err)
			os.Exit(1)
		}
		blobs = s3
	} else {
		log.Warn("no S3 credentials, using the in-memory blob store")
		blobs = blob.NewMem()
	}

	var limiterStore ratelimit.Store
	if cfg.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis url parse failed", "err", err)
			os.Exit(1)
		}
		limiterStore = ratelimit.NewRedisStore(goredis.NewClient(redisOpts))
	} else {
		log.Warn("no REDIS_URL, rate limiting uses the in-memory store")
		limiterStore = ratelimit.NewMemStore()
	}
	limiter := ratelimit.New(limiterStore)

	authSvc := auth.NewService(db, log, auth.Config{
		AccessSecret:      cfg.JWTAccessSecret,
		OAuthClientID:     cfg.OAuthClientID,
		OAuthClientSecret: cfg.OAuthClientSecret,
		OAuthRedirectURI:  cfg.OAuthRedirectURI,
		FrontendURL:       cfg.FrontendURL,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /signin/oauth2/google", authSvc.SignInGoogle)
	mux.HandleFunc("GET /oauth2/google/redirect", authSvc.GoogleRedirect)
	mux.Handle("GET /token", limiter.Middleware("token", 30, time.Minute)(http.HandlerFunc(authSvc.Token)))
	mux.HandleFunc("GET /signout", authSvc.SignOut)

	admin := authSvc.RequireRole("admin")
	authed := authSvc.Authenticate
	uploadLimit := limiter.Middleware("upload", 20, time.Minute)

	streamHandler := stream.NewHandler(blobs, log)
	mux.HandleFunc("GET /videos/{fileHandle...}", streamHandler.ServeVideo)

	catalog.NewHandler(catalog.NewStore(db), blobs, log).Register(mux, admin, uploadLimit)
	genres.NewHandler(db, log).Register(mux, admin)
	reactions.NewHandler(db, log).Register(mux, authed)
	push.NewHandler(db, log).Register(mux, authed)
	dashboard.NewHandler(db, log).Register(mux, admin)

	handler := telemetry.Recover(metrics.Middleware(withLogger(log, mux)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.Info("kino listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "err", err)
	}
}

// withLogger makes the startup logger reachable from request contexts.
func withLogger(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}
