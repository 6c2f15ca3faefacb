package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/http/handlers"
	"github.com/iepose/aigcd/internal/middleware"
)

// Options carries the boundary settings the router needs.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	AllowedOrigins  []string
}

func NewRouter(app *handlers.App, opts Options, logger zerolog.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}

		r.Route("/infer", func(r chi.Router) {
			r.Post("/{type}", app.Submit)
			r.Get("/{token}/state", app.State)
			r.Get("/{token}/result", app.Result)
			r.Get("/{token}/result/wait", app.ResultWait)
			r.Post("/{token}/cancel", app.Cancel)
		})

		r.Get("/me/credit", app.Credit)
	})

	return r
}
