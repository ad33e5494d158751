package httpapi

import (
	"io"
	"net/http"
	"time"

	"studio/internal/http/handlers"
	"studio/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter mounts the generation API. lookup may be nil when no GeoIP
// database is configured.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	logger := zerolog.New(io.Discard)
	if app.Logger != nil {
		logger = *app.Logger
	}
	defaultLocale := "en"
	var origins []string
	rateLimit := 0
	if app.Config != nil {
		defaultLocale = app.Config.DefaultLocale
		origins = app.Config.CORSAllowedOrigins
		rateLimit = app.Config.RateLimitPerMin
	}
	secret := app.JWTSecret
	if secret == "" && app.Config != nil {
		secret = app.Config.JWTSecret
	}

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(origins),
		middleware.I18N(defaultLocale, lookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(secret))
		r.Use(middleware.RateLimit(rateLimit, time.Minute))

		r.Get("/v1/quota", app.Quota)
		r.Get("/v1/stats/generations", app.StatsSummary)

		r.Get("/v1/generations", app.ListGenerations)
		r.Route("/v1/generations/{target}", func(r chi.Router) {
			r.Get("/", app.GenerationStatus)
			r.Post("/", app.Generate)
			r.Delete("/", app.CancelGeneration)
			r.Post("/reset", app.ResetGeneration)
			r.Post("/reconcile", app.ReconcileGeneration)
		})
	})

	return r
}
