package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"kgraph/interfaces/http/rest/handlers"
	"kgraph/interfaces/http/rest/middleware"
	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/index"
	"kgraph/internal/ingest"
	"kgraph/internal/jobs"
	"kgraph/internal/observability"
	"kgraph/internal/provider"
	"kgraph/internal/query"
	"kgraph/internal/store"
	"kgraph/internal/vector"
	"kgraph/internal/vocab"
	"kgraph/pkg/api"
)

// readinessTimeout bounds the dependency probes behind GET /ready.
const readinessTimeout = 2 * time.Second

// Deps carries everything the HTTP surface serves.
type Deps struct {
	Config       config.Server
	Graph        store.Graph
	Objects      *ingest.ObjectStore
	Intake       *ingest.Intake
	Queue        *jobs.Queue
	Queries      *query.Service
	Vocabulary   *vocab.Manager
	Consolidator *vocab.Consolidator
	Vectors      *vector.Index
	Keywords     *index.Keyword
	Registry     *provider.Registry
	Publisher    events.Publisher
	Metrics      *observability.Collector
	Version      string
}

// Router creates and configures the HTTP router
type Router struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(deps Deps, logger *zap.Logger) *Router {
	return &Router{
		deps:   deps,
		logger: logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(rt.logger))
	router.Use(versionMiddleware)
	router.Use(limitBody(rt.deps.Config.MaxRequestBytes))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Principal", "X-Ontology-Scopes"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health, readiness and metrics
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.deps.Metrics != nil {
		router.Handle("/metrics", rt.deps.Metrics.Handler())
	}

	// API documentation
	router.Get("/api/swagger", api.SwaggerHandler())
	router.Get("/api/docs", api.SwaggerUIHandler())

	// API v1 routes
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Principal())

		// Ingestion endpoints
		r.Route("/ingest", func(r chi.Router) {
			ingestHandler := handlers.NewIngestHandler(rt.deps.Intake, rt.deps.Queue, rt.logger)
			r.Post("/text", ingestHandler.IngestText)
			r.Post("/file", ingestHandler.IngestFile)
			r.Post("/image", ingestHandler.IngestImage)
			r.Post("/url", ingestHandler.IngestURL)
		})

		// Job lifecycle endpoints
		r.Route("/jobs", func(r chi.Router) {
			jobsHandler := handlers.NewJobsHandler(rt.deps.Queue, rt.logger)
			r.Get("/", jobsHandler.ListJobs)
			r.Get("/{jobID}", jobsHandler.GetJob)
			r.Post("/{jobID}/approve", jobsHandler.ApproveJob)
			r.Post("/{jobID}/cancel", jobsHandler.CancelJob)
			r.Delete("/{jobID}", jobsHandler.DeleteJob)
		})

		// Query endpoints
		r.Route("/query", func(r chi.Router) {
			queryHandler := handlers.NewQueryHandler(rt.deps.Queries, rt.deps.Graph, rt.logger)
			r.Post("/search", queryHandler.Search)
			r.Post("/concept", queryHandler.Concept)
			r.Post("/connect-by-search", queryHandler.ConnectBySearch)
			r.Post("/polarity-axis", queryHandler.PolarityAxis)
			r.Post("/discover-polarity-axes", queryHandler.DiscoverAxes)
		})

		// Ontology and document management
		ontologyHandler := handlers.NewOntologyHandler(
			rt.deps.Graph, rt.deps.Objects, rt.deps.Vectors, rt.deps.Keywords,
			rt.deps.Queries, rt.deps.Publisher, rt.logger)
		r.Route("/ontology", func(r chi.Router) {
			r.Get("/", ontologyHandler.ListOntologies)
			r.Get("/{name}", ontologyHandler.GetOntology)
			r.Get("/{name}/files", ontologyHandler.ListFiles)
			r.Post("/{name}/rename", ontologyHandler.RenameOntology)
			r.Delete("/{name}", ontologyHandler.DeleteOntology)
		})
		r.Route("/documents", func(r chi.Router) {
			r.Get("/{documentID}/content", ontologyHandler.GetDocumentContent)
			r.Delete("/{documentID}", ontologyHandler.DeleteDocument)
		})

		// Vocabulary endpoints
		r.Route("/vocabulary", func(r chi.Router) {
			vocabHandler := handlers.NewVocabularyHandler(rt.deps.Vocabulary, rt.deps.Consolidator, rt.logger)
			r.Get("/status", vocabHandler.Status)
			r.Get("/list", vocabHandler.List)
			r.Post("/consolidate", vocabHandler.Consolidate)
			r.Post("/merge", vocabHandler.Merge)
			r.Post("/generate-embeddings", vocabHandler.GenerateEmbeddings)
		})

		// Provider configuration endpoints
		r.Route("/admin", func(r chi.Router) {
			adminHandler := handlers.NewAdminHandler(rt.deps.Graph, rt.deps.Registry, rt.deps.Publisher, rt.logger)
			r.Route("/embedding-config", func(r chi.Router) {
				r.Get("/", adminHandler.ListConfigs(domain.ModelConfigEmbedding))
				r.Put("/", adminHandler.PutConfig(domain.ModelConfigEmbedding))
				r.Post("/activate", adminHandler.ActivateConfig(domain.ModelConfigEmbedding))
				r.Delete("/{configID}", adminHandler.DeleteConfig(domain.ModelConfigEmbedding))
			})
			r.Route("/extraction-config", func(r chi.Router) {
				r.Get("/", adminHandler.ListConfigs(domain.ModelConfigExtraction))
				r.Put("/", adminHandler.PutConfig(domain.ModelConfigExtraction))
				r.Post("/activate", adminHandler.ActivateConfig(domain.ModelConfigExtraction))
				r.Delete("/{configID}", adminHandler.DeleteConfig(domain.ModelConfigExtraction))
			})
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(api.HealthView{Status: "healthy", Version: rt.deps.Version})
}

// readinessCheck probes the store and the keyword index
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{"store": "ok", "keyword_index": "ok"}
	ready := true
	if _, err := rt.deps.Graph.Stats(ctx, ""); err != nil {
		checks["store"] = err.Error()
		ready = false
	}
	if _, err := rt.deps.Keywords.Count(); err != nil {
		checks["keyword_index"] = err.Error()
		ready = false
	}

	view := api.ReadyView{Status: "ready", Checks: checks}
	status := http.StatusOK
	if !ready {
		view.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(view)
}

// versionMiddleware adds the API version header to /api responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("X-API-Version", "v1")
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody caps request body size; zero disables the cap.
func limitBody(max int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
