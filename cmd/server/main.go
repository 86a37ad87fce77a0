package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Simplici0/launchpricing/internal/config"
	"github.com/Simplici0/launchpricing/internal/db"
	"github.com/Simplici0/launchpricing/internal/logging"
	"github.com/Simplici0/launchpricing/internal/metrics"
	"github.com/Simplici0/launchpricing/internal/migrations"
	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/recompute"
	"github.com/Simplici0/launchpricing/internal/seed"
	"github.com/Simplici0/launchpricing/internal/store"
)

type server struct {
	coord      *recompute.Coordinator
	log        *slog.Logger
	adminToken string
}

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel)
	cfg.LogWarnings(logger)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logging.Fatal("failed to open database", "error", err)
	}
	defer database.Close()

	if err := migrations.Up(context.Background(), database); err != nil {
		logging.Fatal("failed to run database migrations", "error", err)
	}

	recorder, err := metrics.NewRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		logging.Fatal("failed to register metrics", "error", err)
	}

	coord := recompute.New(store.NewSQLite(database),
		recompute.WithLogger(logger),
		recompute.WithMetrics(recorder),
		recompute.WithWorkers(cfg.RecomputeWorkers),
	)

	if cfg.SeedDemo {
		if err := seedDemo(context.Background(), database, coord); err != nil {
			logging.Fatal("failed to seed demo launch", "error", err)
		}
	}

	srv := &server{coord: coord, log: logger, adminToken: cfg.AdminToken}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("listening", "addr", httpServer.Addr, "env", cfg.Env)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server stopped", "error", err)
	}
}

func seedDemo(ctx context.Context, database *sql.DB, coord *recompute.Coordinator) error {
	stats, err := seed.Run(ctx, database)
	if err != nil {
		return err
	}
	slog.Info("demo seed applied", "inserts", stats.Inserts)
	if stats.Inserts == 0 {
		return nil
	}
	if _, err := coord.RecomputeScenario(ctx, seed.DemoScenarioID); err != nil {
		return fmt.Errorf("recompute demo scenario: %w", err)
	}
	return nil
}

func (s *server) routes(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Get("/scenarios", s.handleListScenarios)
	r.Get("/scenarios/{id}", s.handleGetScenario)
	r.Get("/scenarios/{id}/status", s.handleScenarioStatus)
	r.Get("/scenarios/{id}/rate-table", s.handleGetRateTable)
	r.Get("/scenarios/{id}/phases", s.handleListPhases)
	r.Get("/scenarios/{id}/breakdown", s.handleBreakdown)
	r.Get("/scenarios/{id}/summary", s.handleSummary)
	r.Get("/units", s.handleListUnits)

	r.Group(func(r chi.Router) {
		r.Use(s.adminOnly)

		r.Post("/scenarios", s.handleCreateScenario)
		r.Put("/scenarios/{id}/rate-table", s.handleUpsertRateTable)
		r.Post("/scenarios/{id}/factors", s.handleUpsertFactor)
		r.Delete("/factors/{id}", s.handleDeleteFactor)
		r.Post("/scenarios/{id}/phases", s.handleCreatePhase)
		r.Put("/phases/{id}", s.handleUpdatePhase)
		r.Delete("/phases/{id}", s.handleDeletePhase)
		r.Post("/units", s.handleUpsertUnit)
		r.Put("/units/{id}", s.handleUpsertUnit)

		r.Post("/scenarios/{id}/recompute", s.handleRecomputeScenario)
		r.Post("/recompute", s.handleRecomputeAll)

		r.Post("/scenarios/{id}/phases/{phaseID}/allocate", s.handleAllocation(allocate))
		r.Post("/scenarios/{id}/phases/{phaseID}/deallocate", s.handleAllocation(deallocate))
		r.Post("/scenarios/{id}/phases/{phaseID}/reallocate", s.handleAllocation(reallocate))
	})

	return r
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return pricing.Invalid("request", "", "body", err.Error())
	}
	return nil
}

// statusFor maps error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch pricing.KindOf(err) {
	case pricing.ErrInvalidInput:
		return http.StatusBadRequest
	case pricing.ErrNotFound:
		return http.StatusNotFound
	case pricing.ErrAlreadyAllocated, pricing.ErrDataIntegrity:
		return http.StatusConflict
	case pricing.ErrConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if kind := pricing.KindOf(err); kind != nil {
		body.Kind = kind.Error()
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
