package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/internal/service"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
)

// Identity headers set by the gateway after authentication.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

// Services groups the operations exposed over HTTP and gRPC.
type Services struct {
	Cases   *service.CaseService
	Mutator *service.MutationCoordinator
	Bulk    *service.BulkRunner
	Badges  *service.BadgeAggregator
	Reclass *service.Reclassifier
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log}
}

// Register mounts the case routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/cases", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListCases(w, r)
		case http.MethodPost:
			h.CreateCase(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/cases/get", h.GetCase)
	mux.HandleFunc("/api/v1/cases/mutate", h.ApplyMutation)
	mux.HandleFunc("/api/v1/cases/bulk", h.ApplyBulkMutation)
	mux.HandleFunc("/api/v1/cases/acknowledge", h.AcknowledgeReceipt)
	mux.HandleFunc("/api/v1/cases/badges", h.GetBadges)
	mux.HandleFunc("/api/v1/cases/audit", h.GetAuditTrail)
	mux.HandleFunc("/api/v1/cases/reclassify", h.ReclassifyCase)
}

// CreateCase handles create case HTTP requests
func (h *HTTPHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateCaseRequest
	if !decode(w, r, &req) {
		return
	}
	req.CreatedBy = actor(r)

	rec, err := h.svc.Cases.CreateCase(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetCase handles get case HTTP requests
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec, err := h.svc.Cases.GetCase(r.Context(), r.URL.Query().Get("ne"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListCases handles list cases HTTP requests. Any query parameter named after
// a mutable field filters on equality, e.g. ?revisorStatus=Approved.
func (h *HTTPHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	req := service.ListCasesRequest{
		Assignee:     q.Get("assignee"),
		InvolvedUser: q.Get("involvedUser"),
	}
	req.IncludeArchived, _ = strconv.ParseBool(q.Get("includeArchived"))
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	for _, f := range repository.AllFields() {
		raw, ok := q[f.String()]
		if !ok || len(raw) == 0 {
			continue
		}
		var value any = raw[0]
		if f.Kind() == repository.KindBool {
			b, err := strconv.ParseBool(raw[0])
			if err != nil {
				h.writeError(w, r, errors.InvalidInput(f.String(), "expects true or false"))
				return
			}
			value = b
		}
		req.Equals = append(req.Equals, service.Change{Field: f, Value: value})
	}

	cases, err := h.svc.Cases.ListCases(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases":  cases,
		"count":  len(cases),
		"offset": req.Offset,
	})
}

// ApplyMutation handles single-field mutation requests. A rejected
// precondition answers 422 with the result body.
func (h *HTTPHandler) ApplyMutation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.MutationRequest
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r)

	res, err := h.svc.Mutator.ApplyMutation(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Outcome == service.OutcomeRejected {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, res)
}

// ApplyBulkMutation handles bulk mutation requests.
func (h *HTTPHandler) ApplyBulkMutation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.BulkRequest
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r)

	res, err := h.svc.Bulk.ApplyBulkMutation(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AcknowledgeReceipt handles physical worksheet receipt acknowledgements.
func (h *HTTPHandler) AcknowledgeReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		NEs []string `json:"nes" validate:"required,min=1,dive,required"`
	}
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Bulk.AcknowledgeReceipt(r.Context(), req.NEs, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBadges handles badge requests
func (h *HTTPHandler) GetBadges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ne := r.URL.Query().Get("ne")
	if ne == "" {
		h.writeError(w, r, errors.InvalidInput("ne", "is required"))
		return
	}
	badges, err := h.svc.Badges.GetBadges(r.Context(), ne)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, badges)
}

// GetAuditTrail handles audit trail requests
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ne := r.URL.Query().Get("ne")
	if ne == "" {
		h.writeError(w, r, errors.InvalidInput("ne", "is required"))
		return
	}
	entries, err := h.svc.Cases.GetAuditTrail(r.Context(), ne)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ne":      repository.NormalizeNE(ne),
		"entries": entries,
	})
}

// ReclassifyCase handles privileged reclassification requests
func (h *HTTPHandler) ReclassifyCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.ReclassifyRequest
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r)
	req.Roles = roles(r)

	res, err := h.svc.Reclass.ReclassifyCase(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

func roles(r *http.Request) []string {
	var out []string
	for _, part := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: string(errors.ErrCodeInvalidInput), Message: "invalid request body: " + err.Error()})
		return false
	}
	if err := validateRequest(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBodyOf(err))
		return false
	}
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func errorBodyOf(err error) errorBody {
	body := errorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}
	return body
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBodyOf(err)
	status := httpStatus(errors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, body)
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeValidationRejected:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodePermissionDenied, errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
