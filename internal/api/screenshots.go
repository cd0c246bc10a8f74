package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/gallery"
)

const dateLayout = "2006-01-02"

func (s *Server) searchScreenshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := gallery.Query{
		Domain: strings.TrimSpace(q.Get("domain")),
		Device: strings.TrimSpace(q.Get("device_type")),
	}
	var err error
	if raw := q.Get("start_date"); raw != "" {
		if query.From, err = time.Parse(dateLayout, raw); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date. Use YYYY-MM-DD")
			return
		}
	}
	if raw := q.Get("end_date"); raw != "" {
		end, parseErr := time.Parse(dateLayout, raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date. Use YYYY-MM-DD")
			return
		}
		query.To = end.Add(24*time.Hour - time.Nanosecond)
	}
	if !query.From.IsZero() && !query.To.IsZero() && query.To.Before(query.From) {
		writeError(w, http.StatusBadRequest, "end_date must not be before start_date")
		return
	}

	shots, err := gallery.Search(s.opts.ScreenshotDir, query)
	if err != nil {
		s.logger.Error("search screenshots failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search screenshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"screenshots": shots})
}

func (s *Server) screenshotIndex(w http.ResponseWriter, _ *http.Request) {
	index, err := gallery.Index(s.opts.ScreenshotDir)
	if err != nil {
		s.logger.Error("index screenshots failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to index screenshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": index})
}

func (s *Server) deleteScreenshot(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	err := gallery.Delete(s.opts.ScreenshotDir, rel)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"path": rel, "deleted": true})
	case errors.Is(err, gallery.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gallery.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("delete screenshot failed", zap.String("path", rel), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete screenshot")
	}
}
