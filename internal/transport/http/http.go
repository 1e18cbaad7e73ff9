package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
	enqueueentry "github.com/happydotemdr/hookrelay/internal/transport/http/enqueue_entry"
	listfailed "github.com/happydotemdr/hookrelay/internal/transport/http/list_failed"
	queuestats "github.com/happydotemdr/hookrelay/internal/transport/http/queue_stats"
	runpass "github.com/happydotemdr/hookrelay/internal/transport/http/run_pass"
	"github.com/happydotemdr/hookrelay/pkg/http/middleware/trace"
	"github.com/happydotemdr/hookrelay/pkg/logger"
)

type service interface {
	Enqueue(ctx context.Context, requestID string, payload json.RawMessage) (entry.QueueEntry, error)
	RunOnce(ctx context.Context) (entry.PassSummary, error)
	Stats(ctx context.Context) (entry.PartitionCounts, error)
	ListFailed(ctx context.Context, limit, offset int) ([]entry.QueueEntry, error)
}

type HTTPTransport struct {
	server  *http.Server
	router  *chi.Mux
	service service
}

func NewHTTPTransport(service service) *HTTPTransport {
	router := newRouter()
	server := newServer(router)
	return &HTTPTransport{
		server:  server,
		router:  router,
		service: service,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api/queue", func(r chi.Router) {
		r.Post("/entries", h.enqueueEntry)
		r.Get("/stats", h.queueStats)
		r.Get("/failed", h.listFailed)
		r.Post("/passes", h.runPass)
	})
}

func (h *HTTPTransport) enqueueEntry(w http.ResponseWriter, r *http.Request) {
	enqueueentry.EnqueueEntry(w, r, h.service)
}

func (h *HTTPTransport) queueStats(w http.ResponseWriter, r *http.Request) {
	queuestats.QueueStats(w, r, h.service)
}

func (h *HTTPTransport) listFailed(w http.ResponseWriter, r *http.Request) {
	listfailed.ListFailed(w, r, h.service)
}

func (h *HTTPTransport) runPass(w http.ResponseWriter, r *http.Request) {
	runpass.RunPass(w, r, h.service)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))
	router.Use(trace.NewTraceMiddleware)

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
