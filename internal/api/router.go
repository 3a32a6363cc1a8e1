// Package api exposes the gate over HTTP for a conversational front-end.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/swapguard/internal/gate"
)

type Options struct {
	Logger         zerolog.Logger
	Metrics        http.Handler
	AllowedOrigins []string
	// TrustClientID keys rate limits on the X-Client-ID header. Enable it
	// only behind a front-end that sets the header itself.
	TrustClientID  bool
}

type Server struct {
	gate          *gate.Gate
	logger        zerolog.Logger
	trustClientID bool
}

// NewRouter builds the HTTP routes. Every response body is an envelope.
func NewRouter(g *gate.Gate, opts Options) http.Handler {
	s := &Server{gate: g, logger: opts.Logger, trustClientID: opts.TrustClientID}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(opts.Logger))
	r.Use(tracing)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ClientIDHeader, "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/chains", s.listChains)
		r.Get("/chains/{chain}/tokens", s.chainTokens)
		r.Get("/tokens/{token}/best-chain", s.bestChain)
		r.Get("/tokens/{token}/check", s.checkToken)
		r.Get("/pairs/best-chain", s.bestPairChain)
		r.Get("/tools", s.tools)

		r.Post("/screen", s.screen)
		r.Post("/tools/validate", s.validateTool)
		r.Post("/tools/propose", s.proposeTool)

		r.Route("/approvals/{id}", func(r chi.Router) {
			r.Get("/", s.getApproval)
			r.Post("/approve", s.approve)
			r.Post("/reject", s.reject)
			r.Post("/reset", s.reset)
			r.Post("/submit", s.submit)
		})

		r.Post("/plans", s.runPlan)
		r.Post("/errors/classify", s.classify)
	})
	return r
}
