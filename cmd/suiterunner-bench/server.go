package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	suiterunner "github.com/Swind/go-suite-runner"
	"github.com/Swind/go-suite-runner/reporting/sqlitestore"
)

type server struct {
	computer *suiterunner.ParallelComputer
	store    *sqlitestore.Store
	logger   *logrus.Logger
}

// newRouter serves metrics, health, shutdown and, with a store, run history.
func newRouter(reg *prom.Registry, computer *suiterunner.ParallelComputer, store *sqlitestore.Store, logger *logrus.Logger) http.Handler {
	s := &server{computer: computer, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Post("/shutdown", s.handleShutdown)
	r.Get("/pools", s.handlePools)
	r.Get("/schedulers", s.handleSchedulers)
	if store != nil {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
		})
	}
	return r
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	interrupt, _ := strconv.ParseBool(r.URL.Query().Get("interrupt"))
	inFlight := s.computer.Shutdown(interrupt)
	names := make([]string, 0, len(inFlight))
	for _, d := range inFlight {
		names = append(names, d.DisplayName())
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"interrupt": interrupt,
		"in_flight": names,
	})
}

func (s *server) handlePools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.computer.SharedPoolStats())
}

func (s *server) handleSchedulers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.computer.SchedulerStats())
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, sqlitestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tests, err := s.store.Tests(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "tests": tests})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
