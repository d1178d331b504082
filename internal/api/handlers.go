package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawl"
	"github.com/JakeFAU/site-mirror/internal/settings"
)

const (
	defaultPerPage      = 20
	maxPerPage          = 100
	defaultManualReason = "Manual mirror requested"
	maxReasonLength     = 500
)

type triggerRequest struct {
	Reason string `json:"reason"`
}

// trigger handles POST /v1/triggers from the site's content hooks. Requests
// sent by the mirror's own crawler are acknowledged and dropped.
func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.UserAgent(), settings.UserAgentMarker) {
		s.logger.Debug("ignoring trigger from mirror crawler", zap.String("user_agent", r.UserAgent()))
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	req, err := decodeReason(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason required")
		return
	}
	job, err := s.svc.Enqueue(r.Context(), req.Reason)
	if err != nil {
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "pending": job})
}

// runMirror handles POST /v1/mirrors/run. The body is optional.
func (s *Server) runMirror(w http.ResponseWriter, r *http.Request) {
	req, err := decodeReason(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = defaultManualReason
	}
	job, err := s.svc.RunNow(r.Context(), req.Reason)
	if err != nil {
		s.logger.Error("manual run failed to queue", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "pending": job})
}

// listMirrors handles GET /v1/mirrors?page=&per_page=.
func (s *Server) listMirrors(w http.ResponseWriter, r *http.Request) {
	page, err := parsePositive(r, "page", 1, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := parsePositive(r, "per_page", defaultPerPage, maxPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.svc.List(r.Context(), page, perPage)
	if err != nil {
		s.logger.Error("list mirrors failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list mirrors")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// expireMirrors handles POST /v1/mirrors/expire. Partial failures still
// report how many mirrors were removed.
func (s *Server) expireMirrors(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.Expire(r.Context())
	if err != nil {
		s.logger.Warn("expiry incomplete", zap.Int("removed", removed), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"removed": removed, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// preview handles GET /v1/preview?dry_run=true.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid dry_run")
			return
		}
		dryRun = v
	}
	s.writeJSON(w, http.StatusOK, s.svc.Preview(r.Context(), dryRun))
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.CurrentSettings(r.Context()))
}

// putSettings accepts the raw text form of the settings, one key per field.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var input map[string]string
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := s.svc.SaveSettings(r.Context(), input); err != nil {
		s.logger.Error("save settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.CurrentSettings(r.Context()))
}

func (s *Server) presets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"presets": crawl.Presets()})
}

func decodeReason(r *http.Request) (triggerRequest, error) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, errors.New("invalid JSON")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxReasonLength {
		return req, fmt.Errorf("reason exceeds %d characters", maxReasonLength)
	}
	return req, nil
}

func parsePositive(r *http.Request, key string, def, limit int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	if limit > 0 && v > limit {
		return limit, nil
	}
	return v, nil
}
