package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"taskplane.io/internal/audit"
	"taskplane.io/internal/auth"
	"taskplane.io/internal/config"
	"taskplane.io/internal/httpapi"
	"taskplane.io/internal/obs"
	"taskplane.io/internal/tenant"
)

var version = "0.3.0"

func main() {
	cfg := config.MustLoad()
	obs.Init()

	var (
		db         *sql.DB
		users      auth.UserStore
		tokens     auth.RefreshTokenStore
		auditStore audit.Store
	)
	if cfg.DB.DSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		users = auth.NewPGUserStore(db)
		tokens = auth.NewPGTokenStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		log.Println("no DSN configured, using in-memory stores")
		users = auth.NewMemoryUserStore()
		tokens = auth.NewMemoryTokenStore()
		auditStore = audit.NewLogStore()
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret,
		auth.WithIssuerName(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	svc, err := auth.NewService(users, tokens, issuer)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	recorder := audit.NewRecorder(auditStore, cfg.Audit.QueueSize)

	resolver := &tenant.Resolver{
		Default:   cfg.Auth.DefaultTenant,
		TokenHint: issuer.ParseTenantHint,
	}

	api := httpapi.New(httpapi.Deps{
		Auth:          svc,
		Tenants:       resolver,
		Audit:         recorder,
		Ready:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		MaxBodyBytes:  cfg.HTTPServer.MaxBodyBytes,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPServer.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTPServer.ReadTimeout,
		WriteTimeout:      cfg.HTTPServer.WriteTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}

	// Retention sweeps only touch terminal records, so they are safe to run
	// alongside live traffic.
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go runSweeper(sweepCtx, svc, cfg.Sweep.Interval, cfg.Sweep.RetainRevoked)

	log.Printf("Starting taskplane-identity %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	stopSweeps()
	recorder.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func runSweeper(ctx context.Context, svc *auth.Service, interval, retainRevoked time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := svc.SweepExpired(ctx); err != nil {
				log.Printf("sweep expired: %v", err)
			} else if n > 0 {
				log.Printf("sweep expired: removed %d", n)
			}
			if n, err := svc.SweepOldRevoked(ctx, retainRevoked); err != nil {
				log.Printf("sweep revoked: %v", err)
			} else if n > 0 {
				log.Printf("sweep revoked: removed %d", n)
			}
		}
	}
}
