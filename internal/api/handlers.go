package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/nhle/inboxpilot/internal/app"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// APIError is the error envelope of every failed request.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail describes a failure.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type replyRequest struct {
	Content string `json:"content"`
}

type refineRequest struct {
	Instruction string `json:"instruction"`
}

type draftResponse struct {
	ID    string `json:"id"`
	Draft string `json:"draft_reply"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("Encoding JSON response failed", "err", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, APIError{
		Error: APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeFailure maps err to a status code. Errors of unknown kind become
// fallbackStatus.
func (s *Server) writeFailure(
	w http.ResponseWriter,
	r *http.Request,
	err error,
	fallbackStatus int,
) {
	status, code := fallbackStatus, "internal"
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrAlreadyReplied):
		status, code = http.StatusConflict, "already_replied"
	case errors.Is(err, model.ErrNotRelevant):
		status, code = http.StatusUnprocessableEntity, "not_relevant"
	case errors.Is(err, model.ErrEmptyReply):
		status, code = http.StatusBadRequest, "empty_reply"
	case errors.Is(err, app.ErrInferenceUnavailable):
		status, code = http.StatusServiceUnavailable, "inference_unavailable"
	case source.IsAuthError(err):
		status, code = http.StatusBadGateway, "auth_failed"
	case errors.Is(err, source.ErrSourceUnavailable):
		status, code = http.StatusBadGateway, "source_unavailable"
	case fallbackStatus == http.StatusBadGateway:
		code = "send_failed"
	}

	switch {
	case status >= http.StatusInternalServerError:
		s.log.Error("Request failed", "method", r.Method,
			"path", r.URL.Path, "err", err)
	case model.IsClientError(err):
		s.log.Debug("Request refused", "path", r.URL.Path, "err", err)
	}
	s.writeError(w, status, code, err.Error())
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.GetStatus(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleSync handles POST /api/sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Sync(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleListMessages handles GET /api/messages.
//
// Query parameters: relevance, replied, q, limit, offset.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := app.Filter{
		Relevance: fn.None[model.Relevance](),
		Replied:   fn.None[bool](),
		Query:     q.Get("q"),
	}

	if v := q.Get("relevance"); v != "" {
		rel := model.Relevance(v)
		if !rel.Valid() {
			s.writeError(w, http.StatusBadRequest, "bad_request",
				"relevance must be relevant, filtered or unknown")
			return
		}
		f.Relevance = fn.Some(rel)
	}
	if v := q.Get("replied"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request",
				"replied must be a boolean")
			return
		}
		f.Replied = fn.Some(b)
	}

	var ok bool
	if f.Limit, ok = s.intParam(w, r, "limit"); !ok {
		return
	}
	if f.Offset, ok = s.intParam(w, r, "offset"); !ok {
		return
	}

	msgs, err := s.backend.ListMessages(r.Context(), f)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

// handleGetMessage handles GET /api/messages/{id}.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.backend.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

// handleRegenerate handles POST /api/messages/{id}/regenerate.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	draft, err := s.backend.RegenerateDraft(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, draftResponse{ID: id, Draft: draft})
}

// handleRefine handles POST /api/messages/{id}/refine.
func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	draft, err := s.backend.RefineDraft(r.Context(), id, req.Instruction)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, draftResponse{ID: id, Draft: draft})
}

// handleReply handles POST /api/messages/{id}/reply. Delivery failures
// are reported with the sender's own message.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if err := s.backend.SendReply(r.Context(), id, req.Content); err != nil {
		s.writeFailure(w, r, err, http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "has_reply": true})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleCleanup handles POST /api/cleanup?days=N.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days, ok := s.intParam(w, r, "days")
	if !ok {
		return
	}

	n, err := s.backend.Cleanup(r.Context(), days)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request",
			"invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// intParam reads a non-negative integer query parameter. Absent means 0.
func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request",
			name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
