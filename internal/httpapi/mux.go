package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Namespace  string
	Controller Controller
	Link       Link
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

func NewMux(deps Deps) *http.ServeMux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := &pumpAPI{
		namespace: deps.Namespace,
		ctrl:      deps.Controller,
		link:      deps.Link,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.handleHealthz)
	mux.HandleFunc("GET /api/v1/pumps", api.handleListPumps)
	mux.HandleFunc("GET /api/v1/pumps/{id}", api.handleGetPump)
	mux.HandleFunc("POST /api/v1/pumps/{id}/control", api.handleControl)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
