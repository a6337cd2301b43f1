package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/metrics"
	"github.com/JakeFAU/harmony-crawler/internal/report"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

const (
	defaultLimit   = 10
	requestTimeout = 30 * time.Second
)

// Server wires HTTP handlers to the store's read side.
type Server struct {
	router chi.Router
	reader store.Reader
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reader store.Reader, logger *zap.Logger) *Server {
	s := &Server{reader: reader, logger: logging.OrNop(logger).Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, requestTimeout, "request timed out")
	})

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/composers", s.listComposers)
		r.Get("/compositions", s.listCompositions)
		r.Route("/stats", func(r chi.Router) {
			r.Get("/tables", s.tableCounts)
			r.Get("/top/{category}", s.topValues)
			r.Get("/words/{source}", s.topWords)
			r.Get("/frequency", s.frequency)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listComposers(w http.ResponseWriter, r *http.Request) {
	names, err := s.reader.ListComposerNames(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"composers": nonNil(names)})
}

func (s *Server) listCompositions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reader.ListCompositions(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"compositions": nonNil(rows)})
}

func (s *Server) tableCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reader.TableCounts(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": counts})
}

func (s *Server) topValues(w http.ResponseWriter, r *http.Request) {
	category, err := report.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.reader.ListCompositions(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"top":      report.TopN(rows, category, limit),
	})
}

func (s *Server) topWords(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	var texts []string
	source := chi.URLParam(r, "source")
	switch source {
	case "composers":
		names, err := s.reader.ListComposerNames(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		texts = names
	case "titles":
		rows, err := s.reader.ListCompositions(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		for _, row := range rows {
			texts = append(texts, row.WorkTitle)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown word source "+strconv.Quote(source))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "words": report.TopWords(texts, limit)})
}

func (s *Server) frequency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := report.ParseCategory(q.Get("x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "x: "+err.Error())
		return
	}
	y, err := report.ParseCategory(q.Get("y"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "y: "+err.Error())
		return
	}
	rows, err := s.reader.ListCompositions(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.CrossTab(rows, x, y))
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("store query failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "store unavailable")
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
