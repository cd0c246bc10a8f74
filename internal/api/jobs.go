package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/jobs"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	acceptedMessage = "Screenshot task started"
)

// Submission error texts.
const (
	msgMissingDomain = "Missing 'domain' field"
	msgMissingDevice = "Missing 'deviceType' field"
	msgInvalidDevice = "Invalid device type. Must be 'mobile' or 'desktop'"
	msgInvalidBudget = "Invalid 'linkBudget' field. Must be >= 0"
)

type submitJobRequest struct {
	Domain     string `json:"domain" validate:"required"`
	DeviceType string `json:"deviceType" validate:"required,oneof=mobile desktop"`
	LinkBudget *int   `json:"linkBudget,omitempty" validate:"omitempty,min=0"`
}

type submitJobResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, submitValidationMessage(err))
		return
	}
	budget := s.opts.LinkBudget
	if req.LinkBudget != nil {
		budget = *req.LinkBudget
	}

	jobID, err := s.jobs.Submit(r.Context(), req.Domain, req.DeviceType, budget)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: jobID, Message: acceptedMessage})
	case errors.Is(err, capture.ErrInvalidURL), errors.Is(err, capture.ErrInvalidDevice),
		errors.Is(err, jobs.ErrInvalidBudget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start job")
	}
}

// submitValidationMessage maps the first validation failure to the
// client-facing text for that field.
func submitValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Domain":
		return msgMissingDomain
	case "DeviceType":
		if fe.Tag() == "required" {
			return msgMissingDevice
		}
		return msgInvalidDevice
	case "LinkBudget":
		return msgInvalidBudget
	}
	return err.Error()
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state capture.JobState
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		state, err = parseState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	recs, err := s.jobs.List(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	filtered := make([]capture.JobRecord, 0, len(recs))
	for _, rec := range recs {
		if state == "" || rec.State == state {
			filtered = append(filtered, rec)
		}
	}
	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  filtered[offset:end],
		"total": total,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	rec := s.jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	status := http.StatusOK
	if rec.State == capture.StateUnknown {
		status = http.StatusNotFound
	}
	writeJSON(w, status, rec)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	canceled := s.jobs.Cancel(r.Context(), jobID)
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "canceled": canceled})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseState(input string) (capture.JobState, error) {
	state := capture.JobState(strings.ToUpper(input))
	switch state {
	case capture.StatePending, capture.StateStarted, capture.StateProcessing,
		capture.StateSuccess, capture.StateFailure, capture.StateCanceled, capture.StateError:
		return state, nil
	default:
		return "", errors.New("invalid state")
	}
}
