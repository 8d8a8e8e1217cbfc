// Package server exposes aggregations over http.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/model"
	"github.com/armadaproject/insights/internal/insights/repository"
)

type Aggregator interface {
	Aggregate(ctx *insightscontext.Context, spec model.FilterSpec) (*model.AggregationResponse, error)
	Explain(ctx *insightscontext.Context, spec model.FilterSpec) (*repository.Query, error)
}

type ExplainResponse struct {
	Sql    string                 `json:"sql"`
	Params map[string]interface{} `json:"params"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter serves:
//
//	POST /v1/aggregate  FilterSpec -> AggregationResponse
//	POST /v1/explain    FilterSpec -> ExplainResponse
//	GET  /metrics
//	GET  /health
func NewRouter(aggregator Aggregator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/aggregate", func(w http.ResponseWriter, req *http.Request) {
			ctx, spec, ok := decodeSpec(w, req)
			if !ok {
				return
			}
			response, err := aggregator.Aggregate(ctx, spec)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			writeJson(w, http.StatusOK, response)
		})
		r.Post("/explain", func(w http.ResponseWriter, req *http.Request) {
			ctx, spec, ok := decodeSpec(w, req)
			if !ok {
				return
			}
			query, err := aggregator.Explain(ctx, spec)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			writeJson(w, http.StatusOK, ExplainResponse{Sql: query.Sql, Params: query.Args})
		})
	})
	return r
}

func decodeSpec(w http.ResponseWriter, req *http.Request) (*insightscontext.Context, model.FilterSpec, bool) {
	ctx := insightscontext.New(req.Context(), log.WithField("httpRequestId", chimw.GetReqID(req.Context())))
	var spec model.FilterSpec
	if err := json.NewDecoder(req.Body).Decode(&spec); err != nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "invalid filter: " + err.Error()})
		return nil, model.FilterSpec{}, false
	}
	return ctx, spec, true
}

func writeError(ctx *insightscontext.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case insightserrors.IsInvalidRequest(err):
		status = http.StatusBadRequest
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		status = http.StatusServiceUnavailable
	default:
		ctx.Log.WithError(err).Error("aggregation failed")
	}
	writeJson(w, status, errorResponse{Error: err.Error()})
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		log.WithFields(log.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("handled request")
	})
}
