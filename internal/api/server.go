// Package api provides the HTTP REST surface of the orchestration core.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/dispatch"
	"github.com/djinnbot/djinnbot/internal/engine"
	"github.com/djinnbot/djinnbot/internal/graph"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/pulse"
	"github.com/djinnbot/djinnbot/internal/store"
	"github.com/djinnbot/djinnbot/internal/swarm"
	"github.com/djinnbot/djinnbot/internal/workspace"
)

// Server wires the engines behind the HTTP contract.
type Server struct {
	router     chi.Router
	store      *store.Store
	engine     *engine.Engine
	graph      *graph.Service
	dispatcher *dispatch.Dispatcher
	workspaces *workspace.Manager
	scheduler  *pulse.Scheduler
	swarm      *swarm.Coordinator
	logger     *logging.Logger

	allowedOrigins []string
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAllowedOrigins restricts CORS origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer creates the API server.
func NewServer(
	st *store.Store,
	eng *engine.Engine,
	gr *graph.Service,
	dsp *dispatch.Dispatcher,
	ws *workspace.Manager,
	sched *pulse.Scheduler,
	sw *swarm.Coordinator,
	opts ...Option,
) *Server {
	s := &Server{
		store:          st,
		engine:         eng,
		graph:          gr,
		dispatcher:     dsp,
		workspaces:     ws,
		scheduler:      sched,
		swarm:          sw,
		logger:         logging.NewNop(),
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Delete("/", s.handleDeleteProject)

				r.Get("/columns", s.handleListColumns)
				r.Post("/columns", s.handleCreateColumn)
				r.Put("/columns/{columnID}", s.handleUpdateColumn)
				r.Delete("/columns/{columnID}", s.handleDeleteColumn)

				r.Get("/ready-tasks", s.handleReadyTasks)
				r.Post("/import", s.handleImport)
				r.Get("/timeline", s.handleTimeline)
				r.Get("/dependency-graph", s.handleDependencyGraph)
				r.Post("/workspace-setup", s.handleSetupWorkspace)
				r.Post("/swarm", s.handleBoardSwarm)
				r.Post("/swarm-execute", s.handleExecuteDAG)

				r.Route("/tasks", func(r chi.Router) {
					r.Get("/", s.handleListTasks)
					r.Post("/", s.handleCreateTask)

					r.Route("/{taskID}", func(r chi.Router) {
						r.Get("/", s.handleGetTask)
						r.Delete("/", s.handleDeleteTask)
						r.Post("/claim", s.handleClaim)
						r.Post("/transition", s.handleTransition)
						r.Post("/move", s.handleMoveTask)
						r.Post("/execute", s.handleExecuteTask)
						r.Post("/run-completed", s.handleRunCompleted)
						r.Post("/dependencies", s.handleAddDependency)
						r.Delete("/dependencies/{edgeID}", s.handleRemoveDependency)
						r.Post("/workspace", s.handleRequestWorktree)
						r.Delete("/workspace", s.handleRemoveWorktree)
						r.Post("/pull-request", s.handleOpenPullRequest)
						r.Get("/pull-request", s.handlePullRequestStatus)
					})
				})
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleStartRun)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Post("/pause", s.handlePauseRun)
				r.Post("/resume", s.handleResumeRun)
				r.Post("/cancel", s.handleCancelRun)
				r.Post("/restart", s.handleRestartRun)
				r.Get("/outputs", s.handleRunOutputs)

				r.Route("/steps", func(r chi.Router) {
					r.Get("/", s.handleListSteps)
					r.Post("/", s.handleCreateStep)
					r.Put("/{stepID}", s.handleUpdateStep)
					r.Post("/{stepID}/restart", s.handleRestartStep)
				})
			})
		})

		r.Post("/agents/{agentID}/wake", s.handleWake)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return core.ErrValidation("BAD_JSON", "request body is not valid JSON")
	}
	return nil
}

func projectID(r *http.Request) core.ProjectID {
	return core.ProjectID(chi.URLParam(r, "projectID"))
}

func taskID(r *http.Request) core.TaskID {
	return core.TaskID(chi.URLParam(r, "taskID"))
}

func runID(r *http.Request) core.RunID {
	return core.RunID(chi.URLParam(r, "runID"))
}
