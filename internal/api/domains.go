package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/registry"
)

type domainRequest struct {
	Domain string `json:"domain" validate:"required"`
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	if !s.domainsAvailable(w) {
		return
	}
	list, err := s.domains.List(r.Context())
	if err != nil {
		s.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": list})
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	if !s.domainsAvailable(w) {
		return
	}
	dom, err := s.domains.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dom)
}

func (s *Server) addDomain(w http.ResponseWriter, r *http.Request) {
	if !s.domainsAvailable(w) {
		return
	}
	req, ok := s.decodeDomain(w, r)
	if !ok {
		return
	}
	dom, err := s.domains.Add(r.Context(), req.Domain)
	if err != nil {
		s.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dom)
}

func (s *Server) renameDomain(w http.ResponseWriter, r *http.Request) {
	if !s.domainsAvailable(w) {
		return
	}
	req, ok := s.decodeDomain(w, r)
	if !ok {
		return
	}
	dom, err := s.domains.Rename(r.Context(), chi.URLParam(r, "name"), req.Domain)
	if err != nil {
		s.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dom)
}

func (s *Server) removeDomain(w http.ResponseWriter, r *http.Request) {
	if !s.domainsAvailable(w) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.domains.Remove(r.Context(), name); err != nil {
		s.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "deleted": true})
}

func (s *Server) decodeDomain(w http.ResponseWriter, r *http.Request) (domainRequest, bool) {
	var req domainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, msgMissingDomain)
		return req, false
	}
	return req, true
}

func (s *Server) domainsAvailable(w http.ResponseWriter) bool {
	if s.domains == nil {
		writeError(w, http.StatusServiceUnavailable, "domain registry unavailable")
		return false
	}
	return true
}

func (s *Server) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrExists):
		writeError(w, http.StatusConflict, "Domain already exists")
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "Domain not found")
	default:
		s.logger.Error("domain registry failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "domain registry failure")
	}
}
