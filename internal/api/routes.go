package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"secretly.share/config"
	"secretly.share/internal/pkg/logger"
	"secretly.share/internal/store"
	"secretly.share/web"
)

func SetupRouter(s store.Store, cfg *config.Config, log *zap.Logger) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	h := NewHandler(s, cfg, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(NoStore)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.Server.CORSOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         86400,
	}))

	r.Get("/health", h.Health)

	if cfg.Log.LevelEndpoint {
		r.Method(http.MethodGet, "/log/level", logger.HTTPHandler())
		r.Method(http.MethodPut, "/log/level", logger.HTTPHandler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(JSONOnly)

		r.Route("/secrets", func(r chi.Router) {
			r.Post("/", h.CreateSecret)
			r.Get("/{id}", h.RetrieveSecret)
		})
	})

	// Frontend
	r.Get("/", h.Index)
	r.Get("/s/{id}", h.RevealPage)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(web.StaticFS())))

	return r
}
