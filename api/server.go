/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in error logs
  2. Logger:     Request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. DoctorAuth: Caller identity, /api routes only

ROUTE GROUPS:
  /healthz              Database ping, unauthenticated
  /api/patients/*       Patient budget and sessions
  /api/budgets/*        Budget lifecycle and items
  /api/items/*          Item completion, deletion, sessions
  /api/sessions/*       Session archive
  /api/revenue/pending  Revenue aggregate
  /api/audit            Audit history
  /api/templates        Budget templates
  /api/scenarios/*      Demo scenarios (development only)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: DoctorAuth middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterConfig carries the settings the router needs from config.Config.
type RouterConfig struct {
	CORSOrigins []string
	AuthSecret  []byte
	// DevRoutes enables scenario loading and database reset.
	DevRoutes bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", DoctorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(DoctorAuth(cfg.AuthSecret))

		r.Route("/patients/{patientID}", func(r chi.Router) {
			r.Get("/budget", h.GetPatientBudget)
			r.Put("/budget", h.SaveBudget)
			r.Delete("/budget", h.DeletePatientBudget)
			r.Post("/budget/template", h.ApplyTemplate)
			r.Get("/sessions", h.ListPatientSessions)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.ListBudgets)
			r.Post("/", h.CreateBudget)
			r.Get("/{budgetID}", h.GetBudget)
			r.Post("/{budgetID}/activate", h.ActivateBudget)
			r.Post("/{budgetID}/revert", h.RevertBudget)
			r.Post("/{budgetID}/complete", h.CompleteBudget)
			r.Post("/{budgetID}/items", h.AddItem)
			r.Post("/{budgetID}/documents", h.AttachDocument)
		})

		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Delete("/", h.DeleteItem)
			r.Post("/complete", h.CompleteItem)
			r.Post("/sessions", h.RegisterSession)
		})

		r.Delete("/sessions/{sessionID}", h.ArchiveSession)
		r.Get("/revenue/pending", h.PendingRevenue)
		r.Get("/audit", h.AuditHistory)
		r.Get("/templates", h.ListTemplates)

		if cfg.DevRoutes {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

// requestLogger logs one line per request in place of chi's stdlib logger.
func requestLogger(lg zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			lg.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", requestID(r)).
				Msg("http request")
		})
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
