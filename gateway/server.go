package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/registry"
)

// Server exposes the gateway over HTTP: the completion data path,
// entity administration, and operational introspection.
type Server struct {
	svc       *Service
	registry  *registry.Registry
	telemetry core.Telemetry
	logger    core.Logger
	mux       *chi.Mux
}

// NewServer builds the HTTP surface. Telemetry may be nil.
func NewServer(svc *Service, reg *registry.Registry, tel core.Telemetry, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Server{
		svc:       svc,
		registry:  reg,
		telemetry: tel,
		logger:    logger,
		mux:       chi.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler for mounting into an http.Server.
// The otelhttp wrapper extracts incoming W3C trace context and opens a
// server span per request.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "modelgate",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}))
}

func (s *Server) routes() {
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)

	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleCompletion)
		r.Post("/chains/{id}/execute", s.handleChainExecute)
		r.Post("/workflows/{id}/execute", s.handleWorkflowExecute)

		mountEntity(r, "/models", s.registry.Models)
		mountEntity(r, "/chains", s.registry.Chains)
		mountEntity(r, "/workflows", s.registry.Workflows)
		mountEntity(r, "/prompts", s.registry.Prompts)
		r.Post("/prompts/{id}/render", s.handlePromptRender)
		mountEntity(r, "/credentials", s.registry.Credentials)
		mountEntity(r, "/budgets", s.registry.Budgets)
		mountEntity(r, "/webhooks", s.registry.Webhooks)

		r.Get("/usage", s.handleUsageList)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
		r.Delete("/cache/models/{id}", s.handleCacheInvalidateModel)
		r.Get("/metrics/chains", s.handleChainMetrics)
	})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewValidationError("invalid request body: %v", err))
		return
	}
	s.complete(w, r, &req)
}

func (s *Server) handleChainExecute(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewValidationError("invalid request body: %v", err))
		return
	}
	req.ChainID = chi.URLParam(r, "id")
	req.ModelID = ""
	s.complete(w, r, &req)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, req *CompletionRequest) {
	ctx := r.Context()
	if s.telemetry != nil {
		var span core.Span
		ctx, span = s.telemetry.StartSpan(ctx, "gateway.complete")
		defer span.End()
		span.SetAttribute("model_id", req.ModelID)
		span.SetAttribute("chain_id", req.ChainID)
	}

	result, err := s.svc.Complete(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success && result.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleWorkflowExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, core.NewValidationError("invalid request body: %v", err))
		return
	}
	result, err := s.svc.RunWorkflow(r.Context(), chi.URLParam(r, "id"), body.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromptRender(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Variables map[string]string `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, core.NewValidationError("invalid request body: %v", err))
		return
	}
	prompt, err := s.registry.Prompts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	text, err := prompt.Render(body.Variables)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleUsageList(w http.ResponseWriter, r *http.Request) {
	apiKeyID := r.URL.Query().Get("api_key_id")
	modelID := r.URL.Query().Get("model_id")
	records, err := s.registry.Usage.ListFiltered(r.Context(), func(u *core.UsageRecord) bool {
		if apiKeyID != "" && u.APIKeyID != apiKeyID {
			return false
		}
		if modelID != "" && u.ModelID != modelID {
			return false
		}
		return true
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.CacheStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearCache(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheInvalidateModel(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.InvalidateCacheModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleChainMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ChainMetrics())
}

// mountEntity wires the five CRUD routes for one entity repository
func mountEntity[T any](r chi.Router, path string, repo *registry.Repository[T]) {
	r.Route(path, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			entities, err := repo.List(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, entities)
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var entity T
			if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
				writeError(w, core.NewValidationError("invalid request body: %v", err))
				return
			}
			if err := repo.Create(r.Context(), &entity); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, &entity)
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			entity, err := repo.Get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, entity)
		})
		r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var entity T
			if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
				writeError(w, core.NewValidationError("invalid request body: %v", err))
				return
			}
			if err := repo.Update(r.Context(), &entity); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, &entity)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  string(core.KindOf(err)),
	})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	if errors.Is(err, core.ErrBudgetExceeded) {
		return http.StatusTooManyRequests
	}
	switch core.KindOf(err) {
	case core.KindValidation, core.KindInvalidID:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
