package routes

import (
	"canvass-bknd/internal/auth"
	"canvass-bknd/internal/config"
	"canvass-bknd/internal/handlers"
	"canvass-bknd/internal/logger"
	mdlwr "canvass-bknd/internal/middleware"
	"canvass-bknd/internal/services"
	"canvass-bknd/internal/syncq"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/uptrace/bun"

	"github.com/go-chi/cors"
)

// Deps bundles what the router needs; main wires them up once at startup.
type Deps struct {
	DB         *bun.DB
	Markers    *services.MarkerService
	Boundaries *services.BoundaryService
	Settings   *services.SettingsService
	Replays    *syncq.Broadcaster
}

func NewRouter(deps Deps, cfg *config.Config, logr *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// CORS middleware with config
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// init JWT manager
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, "canvass-bknd")
	if err != nil {
		logr.Fatal("failed to init jwt manager", zap.Error(err))
	}

	sessionSvc := services.NewSessionService(deps.DB, jwtMgr, cfg, logr)

	// create the auth middleware instance (pass dependencies)
	authMW := mdlwr.NewAuthMiddleware(jwtMgr.PublicKey(), sessionSvc, logr.Logger)

	authHandler := handlers.NewAuthHandler(sessionSvc, logr, cfg)
	markerHandler := handlers.NewMarkerHandler(deps.Markers, logr.Logger)
	boundaryHandler := handlers.NewBoundaryHandler(deps.Boundaries, logr.Logger)
	settingsHandler := handlers.NewSettingsHandler(deps.Settings, logr.Logger)
	syncHandler := handlers.NewSyncHandler(deps.Replays, deps.Markers, deps.Boundaries, logr.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("ok"))
		if err != nil {
			return
		}
	})

	r.Route("/api/v1", func(r chi.Router) {

		r.Route("/auth", func(r chi.Router) {
			// Public routes
			r.Post("/exchange", authHandler.Exchange)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(authMW.JWTAuth)
				r.Post("/refresh", authHandler.Refresh)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Route("/markers", func(r chi.Router) {
			r.Use(authMW.JWTAuth)

			r.Get("/", markerHandler.ListMarkers)
			r.Put("/", markerHandler.SaveEdit)
			r.Delete("/", markerHandler.DeleteMarker)

			r.Get("/status/counts", markerHandler.GetStatusCounts)
			r.Get("/export", markerHandler.Export)
			r.Post("/reload", markerHandler.Reload)
			r.Post("/reset", markerHandler.ResetStatuses)

			r.Route("/provisional", func(r chi.Router) {
				r.Post("/", markerHandler.CreateProvisional)
				r.Get("/{localID}", markerHandler.GetProvisional)
				r.Post("/{localID}/commit", markerHandler.CommitProvisional)
				r.Delete("/{localID}", markerHandler.CancelProvisional)
			})
		})

		r.Route("/boundaries", func(r chi.Router) {
			r.Use(authMW.JWTAuth)

			r.Get("/", boundaryHandler.ListBoundaries)
			r.Post("/", boundaryHandler.CreateBoundary)
			r.Post("/reload", boundaryHandler.Reload)
			r.Delete("/{areaNumber}", boundaryHandler.DeleteBoundary)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Use(authMW.JWTAuth)

			r.Post("/replay/started", syncHandler.ReplayStarted)
			r.Post("/replay/completed", syncHandler.ReplayCompleted)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Use(authMW.JWTAuth)

			r.Get("/", settingsHandler.GetSettings)
			r.Put("/", settingsHandler.PutSettings)
		})
	})

	return r
}
