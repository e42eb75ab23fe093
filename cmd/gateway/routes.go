package main

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/beelearnt/beelearnt-assessments/internal/api/http"
	"github.com/beelearnt/beelearnt-assessments/internal/assessment"
	auth "github.com/beelearnt/beelearnt-assessments/internal/auth/middleware"
	"github.com/beelearnt/beelearnt-assessments/internal/config"
	"github.com/beelearnt/beelearnt-assessments/internal/rbac"
	syncx "github.com/beelearnt/beelearnt-assessments/internal/sync"
)

type deps struct {
	cfg     config.Config
	db      *sql.DB
	store   assessment.Store
	svc     *assessment.Service
	events  *syncx.EventRepo
	authSvc *auth.AuthService
}

func newRouter(d deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(d.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(d.authSvc, d.db, auth.AdminAccount{
			Username: d.cfg.AdminUser,
			PassHash: d.cfg.AdminPassHash,
		}))
	}

	// JWT -> role in context -> (online: role re-read from users) -> RBAC
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.authSvc))
		pr.Use(auth.AttachRoleFromDB(d.db, d.cfg.Mode == config.ModeOffline))

		// Question bank
		pr.With(rbac.Require("assessment:view")).
			Get("/assessments", api.ListAssessmentsHandler(d.store))
		pr.With(rbac.Require("assessment:create")).
			Post("/assessments", api.UploadAssessmentHandler(d.store))
		pr.With(rbac.Require("assessment:create")).
			Get("/assessments/{assessmentID}", api.GetAssessmentHandler(d.store))

		// Attempt lifecycle
		pr.With(rbac.Require("assessment:start")).
			Post("/assessments/{assessmentID}/start", api.StartAttemptHandler(d.svc))
		pr.With(rbac.Require("attempt:answer")).
			Put("/attempts/{attemptID}/answer", api.SaveAnswerHandler(d.svc))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(d.svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(d.svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(d.svc))

		// Users
		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", api.BulkUpsertUsersHandler(d.db))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(d.db))
		pr.With(rbac.Require("users:update_role")).
			Patch("/users/{userID}/role", api.AdminUpdateUserRoleHandler(d.db))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", api.ChangePasswordHandler(d.db))

		pr.With(rbac.Require("events:read")).
			Get("/events", api.ListEventsHandler(d.events))
	})

	r.Get("/healthz", api.HealthzHandler())
	r.Get("/readyz", api.ReadyzHandler(d.db))
	return r
}
