package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/emad-noorizadeh/eval-rag/internal/config"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
	"github.com/emad-noorizadeh/eval-rag/internal/observability/metrics"
)

// Router wires the query-time HTTP surface: sessions, chat, config and
// diagnostics. The web UI, upload plumbing and ingestion endpoints live
// outside this process.
type Router struct {
	ask      ports.QueryService
	sessions ports.SessionStore
	index    ports.Index
	cfg      *config.Store
	metrics  *metrics.ServerMetrics
	log      *slog.Logger
	limiter  *rate.Limiter
}

func NewRouter(
	ask ports.QueryService,
	sessions ports.SessionStore,
	index ports.Index,
	cfg *config.Store,
	serverMetrics *metrics.ServerMetrics,
	log *slog.Logger,
	chatRate float64,
	chatBurst int,
) *Router {
	return &Router{
		ask:      ask,
		sessions: sessions,
		index:    index,
		cfg:      cfg,
		metrics:  serverMetrics,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(chatRate), chatBurst),
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.log))
	r.Use(func(next http.Handler) http.Handler {
		return rt.metrics.Middleware("api", next)
	})

	r.Get("/healthz", rt.healthz)
	r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", rt.createSession)
		r.Get("/", rt.listSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", rt.getSession)
			r.Delete("/", rt.endSession)
			r.Post("/extend", rt.extendSession)
		})
	})

	r.With(rateLimitMiddleware(rt.limiter)).Post("/chat", rt.chat)

	r.Get("/chat-config", rt.getChatConfig)
	r.Post("/chat-config", rt.updateChatConfig)
	r.Get("/diagnostics/{sessionID}", rt.diagnostics)
	r.Get("/index-info", rt.indexInfo)

	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
