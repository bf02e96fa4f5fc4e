package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/news-radar/internal/config"
	"github.com/DeafMist/news-radar/internal/elasticsearch"
	"github.com/DeafMist/news-radar/internal/logger"
	"github.com/DeafMist/news-radar/internal/models"
)

type groupReader interface {
	Health(ctx context.Context) error
	LatestGrouping(ctx context.Context, tag models.Tag) (*models.GroupingResult, error)
	AggrDocument(ctx context.Context, newsID string) (*models.AggrDocument, error)
}

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, elasticsearch.Indices{
		Raw:   cfg.RawIndex,
		Aggr:  cfg.AggrIndex,
		Group: cfg.GroupIndex,
	}, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{log: log, es: esClient}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log *slog.Logger
	es  groupReader
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/groups", s.handleGroups)
	r.Get("/news/{id}/tokens", s.handleTokens)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGroups returns the most recent grouping of a tag partition.
func (s *server) handleGroups(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("tag"))
	if raw == "" {
		raw = string(models.TagBreaking)
	}
	tag, ok := models.ParseTag(raw)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown tag " + raw})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	grouping, err := s.es.LatestGrouping(ctx, tag)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grouping)
}

func (s *server) handleTokens(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	doc, err := s.es.AggrDocument(ctx, id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, elasticsearch.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.log.Error("lookup failed", slog.Any("err", err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
