package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sharetube/watchsync/pkg/rest"
)

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Route("/sessions", func(r chi.Router) {
			if c.cfg.RateLimit > 0 {
				r.Use(c.rateLimitMw())
			}
			r.Post("/", c.createSession)
			r.Route("/{session-id}", func(r chi.Router) {
				r.Delete("/", c.closeSession)
				r.Get("/presences", c.getPresences)
				r.Get("/metrics", c.getMetrics)
			})
		})
		r.Route("/ws", func(r chi.Router) {
			r.Route("/session/{session-id}", func(r chi.Router) {
				r.Get("/join", c.joinSession)
			})
		})
	})

	return r
}

func (c controller) rateLimitMw() func(http.Handler) http.Handler {
	return httprate.Limit(
		c.cfg.RateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			rest.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
