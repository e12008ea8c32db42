// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/pipeline"
	"github.com/sells-group/diligence-cli/internal/store"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Controller is the job-facing side of the pipeline.
type Controller interface {
	StartRun(ctx context.Context, companyID string) (string, error)
	GetJobStatus(ctx context.Context, companyID string) (*model.AnalysisJob, error)
	GetLatestSnapshot(ctx context.Context, companyID string) (*model.Snapshot, error)
	DeleteCompany(ctx context.Context, companyID string) error
}

// Companies reads and writes company records.
type Companies interface {
	UpsertCompany(ctx context.Context, company *model.Company) error
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	Ping(ctx context.Context) error
}

// Feed serves the agent activity views.
type Feed interface {
	GetAgentsStatus(ctx context.Context, companyID, jobID string) ([]model.AgentStatus, error)
	GetRecentActivity(ctx context.Context, companyID, jobID string, limit int) ([]model.ActivityEvent, error)
	GetAgentToolCalls(ctx context.Context, companyID, jobID string, agent model.AgentID) ([]model.ToolCallWithResult, error)
}

// Deps are the handler's collaborators.
type Deps struct {
	Controller     Controller
	Companies      Companies
	Feed           Feed
	AllowedOrigins []string
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth(deps))

	r.Route("/companies/{companyID}", func(r chi.Router) {
		r.Put("/", handlePutCompany(deps))
		r.Get("/", handleGetCompany(deps))
		r.Delete("/", handleDeleteCompany(deps))

		r.Post("/runs", handleStartRun(deps))
		r.Get("/job", handleJobStatus(deps))
		r.Get("/snapshot", handleLatestSnapshot(deps))

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/agents", handleAgentsStatus(deps))
			r.Get("/activity", handleRecentActivity(deps))
			r.Get("/agents/{agentID}/tool-calls", handleToolCalls(deps))
		})
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Companies.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handlePutCompany(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close() //nolint:errcheck

		id := chi.URLParam(r, "companyID")
		var c model.Company
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if c.ID != "" && c.ID != id {
			httpError(w, http.StatusBadRequest, "body id %q does not match path id %q", c.ID, id)
			return
		}
		c.ID = id
		if err := c.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}
		if err := deps.Companies.UpsertCompany(r.Context(), &c); err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"company": c})
	}
}

func handleGetCompany(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Companies.GetCompany(r.Context(), chi.URLParam(r, "companyID"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "company not found")
			return
		}
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"company": c})
	}
}

func handleDeleteCompany(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Controller.DeleteCompany(r.Context(), chi.URLParam(r, "companyID"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "company not found")
			return
		}
		if err != nil {
			serverError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStartRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := deps.Controller.StartRun(r.Context(), chi.URLParam(r, "companyID"))
		switch {
		case errors.Is(err, pipeline.ErrCompanyNotFound):
			httpError(w, http.StatusNotFound, "company not found")
			return
		case err != nil:
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
	}
}

func handleJobStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Controller.GetJobStatus(r.Context(), chi.URLParam(r, "companyID"))
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	}
}

func handleLatestSnapshot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Controller.GetLatestSnapshot(r.Context(), chi.URLParam(r, "companyID"))
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
	}
}

func handleAgentsStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := deps.Feed.GetAgentsStatus(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "jobID"))
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": statuses})
	}
}

func handleRecentActivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := activity.DefaultRecentLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		events, err := deps.Feed.GetRecentActivity(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "jobID"), limit)
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": events})
	}
}

func handleToolCalls(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := model.AgentID(chi.URLParam(r, "agentID"))
		if !agentID.Valid() {
			httpError(w, http.StatusBadRequest, "unknown agent %q", agentID)
			return
		}
		calls, err := deps.Feed.GetAgentToolCalls(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "jobID"), agentID)
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"toolCalls": calls})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"code":    code,
		},
	})
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	httpError(w, http.StatusInternalServerError, "internal error")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

var (
	_ Controller = (*pipeline.Controller)(nil)
	_ Feed       = (*activity.Feed)(nil)
)
