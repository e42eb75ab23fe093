package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
	auth "github.com/beelearnt/beelearnt-assessments/internal/auth/middleware"
	"github.com/beelearnt/beelearnt-assessments/internal/config"
	"github.com/beelearnt/beelearnt-assessments/internal/db"
	syncx "github.com/beelearnt/beelearnt-assessments/internal/sync"
	"github.com/beelearnt/beelearnt-assessments/internal/telemetry"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "beelearnt-assessments",
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
		SiteID:      cfg.SiteID,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	// --- DB ---
	octx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(octx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()

	store := assessment.NewSQLStore(dbh)
	events := syncx.NewEventRepo(dbh, cfg.SiteID)
	svc := assessment.NewService(store, store, assessment.WithEvents(events))
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.AuthIssuer, cfg.AuthTokenTTL)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: newRouter(deps{
			cfg:     cfg,
			db:      dbh,
			store:   store,
			svc:     svc,
			events:  events,
			authSvc: authSvc,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("listening on %s (mode=%s, db=%s, site=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver, cfg.SiteID)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
