package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"ieltsadmin/internal/app/apiresp"
	"ieltsadmin/internal/app/observability"
	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/content"
	"ieltsadmin/internal/exam"
	"ieltsadmin/internal/notify"
	"ieltsadmin/internal/report"
	"ieltsadmin/internal/roster"
	"ieltsadmin/internal/settings"
	"ieltsadmin/internal/storage"
	"ieltsadmin/internal/wizard"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(cfg Config, db *sql.DB, log *logrus.Logger) (http.Handler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	store, err := storage.NewLocalStore(cfg.BlobDir, cfg.BlobPublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	collector := observability.NewCollector(db, log)
	rec := audit.NewRecorder(db, log)

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL:     time.Duration(cfg.SessionTTLHours) * time.Hour,
		BootstrapToken: cfg.BootstrapToken,
		Audit:          rec,
	})
	authHandler := auth.NewHandler(authSvc, cfg.IsProduction())

	settingsSvc := settings.NewService(db, rec, log)
	settingsHandler := settings.NewHandler(settingsSvc)

	baseLimits := cfg.UploadLimits()
	uploadHandler := storage.NewHandler(store, baseLimits, storage.NewProgressTracker(15*time.Minute), log).
		WithLimits(func(ctx context.Context) storage.Limits {
			return settingsSvc.UploadLimits(ctx, baseLimits)
		})

	contentSvc := content.NewService(db, rec, store.URL)
	contentHandler := content.NewHandler(contentSvc)

	wizardHandler := wizard.NewHandler(wizard.NewService(db, contentSvc, rec, log))
	examHandler := exam.NewHandler(exam.NewService(db, settingsSvc, rec))

	rosterSvc := roster.NewService(db, roster.Config{
		Audit:  rec,
		Mailer: notify.NewSMTPMailer(cfg.SMTP()),
		Site:   settingsSvc,
		Log:    log,
	})
	rosterHandler := roster.NewHandler(rosterSvc, baseLimits.DocumentBytes)

	reportHandler := report.NewHandler(report.NewService(db))
	auditHandler := audit.NewHandler(rec)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", collector.MetricsHandler)
	r.Get("/media/*", uploadHandler.ServeMedia)

	limiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced, cfg.IsProduction()))

		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(limiter))
			public.Post("/bootstrap/init", authHandler.BootstrapInit)
			public.Post("/auth/login", authHandler.LoginPassword)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)
			secure.Put("/profile", authHandler.UpdateProfile)
			secure.Put("/profile/password", authHandler.ChangePassword)

			secure.Get("/settings", settingsHandler.Get)

			secure.Route("/tracks", func(tr chi.Router) {
				tr.Get("/", contentHandler.ListTracks)
				tr.Post("/", contentHandler.CreateTrack)
				tr.Get("/{id}", contentHandler.GetTrack)
				tr.Put("/{id}", contentHandler.UpdateTrack)
				tr.Delete("/{id}", contentHandler.DeleteTrack)
				tr.Get("/{id}/tree", contentHandler.GetTrackTree)
				tr.Put("/{id}/audio", contentHandler.AttachAudio)
				tr.Put("/{id}/timings", contentHandler.SaveTimings)
				tr.Post("/{id}/publish", contentHandler.PublishTrack)
				tr.Post("/{id}/unpublish", contentHandler.UnpublishTrack)
				tr.Post("/{id}/sections", contentHandler.CreateSection)
				tr.Put("/{id}/sections/{sectionID}", contentHandler.UpdateSection)
				tr.Delete("/{id}/sections/{sectionID}", contentHandler.DeleteSection)
				tr.Post("/{id}/sections/{sectionID}/questions", contentHandler.CreateQuestion)
				tr.Put("/{id}/questions/{questionID}", contentHandler.UpdateQuestion)
				tr.Delete("/{id}/questions/{questionID}", contentHandler.DeleteQuestion)
			})

			secure.Route("/wizard/drafts", func(wz chi.Router) {
				wz.Get("/", wizardHandler.List)
				wz.Post("/", wizardHandler.Create)
				wz.Get("/{id}", wizardHandler.Get)
				wz.Delete("/{id}", wizardHandler.Delete)
				wz.Put("/{id}/steps/{step}", wizardHandler.SaveStep)
				wz.Post("/{id}/back", wizardHandler.Back)
				wz.Post("/{id}/commit", wizardHandler.Commit)
			})

			secure.Post("/uploads", uploadHandler.Upload)
			secure.Get("/uploads/{id}/progress", uploadHandler.Progress)
			secure.Delete("/uploads/*", uploadHandler.Delete)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))

				admin.Put("/settings", settingsHandler.Update)
				admin.Get("/dashboard", reportHandler.Dashboard)
				admin.Get("/audit", auditHandler.ListRecent)

				admin.Get("/staff", authHandler.ListStaff)
				admin.Post("/staff", authHandler.CreateStaff)
				admin.Put("/staff/{id}", authHandler.UpdateStaff)

				admin.Route("/exams", func(ex chi.Router) {
					ex.Get("/", examHandler.ListExams)
					ex.Post("/", examHandler.CreateExam)
					ex.Get("/{id}", examHandler.GetExam)
					ex.Put("/{id}", examHandler.UpdateExam)
					ex.Delete("/{id}", examHandler.DeleteExam)
					ex.Post("/{id}/publish", examHandler.PublishExam)
					ex.Post("/{id}/unpublish", examHandler.UnpublishExam)
					ex.Get("/{id}/assignments", examHandler.ListAssignments)
					ex.Put("/{id}/assignments", examHandler.ReplaceAssignments)
					ex.Get("/{id}/attempts", examHandler.ListAttempts)
					ex.Get("/{id}/summary", reportHandler.ExamSummary)
				})
				admin.Get("/attempts/{id}", examHandler.GetAttempt)
				admin.Post("/attempts/{id}/score", examHandler.ScoreAttempt)
				admin.Put("/attempts/{id}/writing", examHandler.GradeWriting)

				admin.Route("/students", func(st chi.Router) {
					st.Get("/", rosterHandler.List)
					st.Post("/", rosterHandler.Create)
					st.Post("/import", rosterHandler.Import)
					st.Get("/export.xlsx", rosterHandler.Export)
					st.Get("/{id}", rosterHandler.Get)
					st.Put("/{id}", rosterHandler.Update)
					st.Delete("/{id}", rosterHandler.Deactivate)
				})
			})
		})
	})

	return r, nil
}
