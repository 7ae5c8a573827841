package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ieltsadmin/internal/app"
	"ieltsadmin/internal/db"
)

func main() {
	cfg := app.LoadConfig()
	log := app.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, cfg.Postgres())
	if err != nil {
		log.WithError(err).Fatal("database error")
	}
	defer dbConn.Close()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, dbConn); err != nil {
			log.WithError(err).Fatal("migrate failed")
		}
		log.Info("schema migrated")
	}

	handler, err := app.NewRouter(cfg, dbConn, log)
	if err != nil {
		log.WithError(err).Fatal("router setup failed")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	log.WithField("addr", cfg.HTTPAddr).WithField("env", cfg.AppEnv).Info("ielts admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server stopped")
	}
}
