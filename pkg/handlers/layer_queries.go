package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/logging"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
	"github.com/ekaya-inc/ekaya-layers/pkg/services"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// LayerQueryRequest is the body of validate and describe requests.
type LayerQueryRequest struct {
	SQL   string `json:"sql" validate:"required"`
	Level string `json:"level,omitempty"`
}

// LayerFeaturesRequest is the body of a features request.
type LayerFeaturesRequest struct {
	SQL    string              `json:"sql" validate:"required"`
	Level  string              `json:"level,omitempty"`
	Bounds *models.BoundingBox `json:"bounds,omitempty" validate:"omitempty"`
	Limit  *int                `json:"limit,omitempty" validate:"omitempty,gte=0"`
	Offset int                 `json:"offset,omitempty" validate:"gte=0"`
}

// LayerQueriesHandler exposes the layer query pipeline over HTTP.
type LayerQueriesHandler struct {
	service services.LayerQueryService
	logger  *zap.Logger
}

// NewLayerQueriesHandler creates a new layer queries handler.
func NewLayerQueriesHandler(service services.LayerQueryService, logger *zap.Logger) *LayerQueriesHandler {
	return &LayerQueriesHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the layer query routes on the given mux.
func (h *LayerQueriesHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/layers/query"

	mux.HandleFunc("POST "+base+"/validate", h.Validate)
	mux.HandleFunc("POST "+base+"/describe", h.Describe)
	mux.HandleFunc("POST "+base+"/features", h.Features)
}

// Validate handles POST /api/layers/query/validate.
// A rejected query is still a successful call: the violations are the data.
func (h *LayerQueriesHandler) Validate(w http.ResponseWriter, r *http.Request) {
	requestID := h.requestID(w)

	var req LayerQueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	level, ok := h.parseLevel(w, req.Level)
	if !ok {
		return
	}

	result, err := h.service.Validate(r.Context(), req.SQL, level)
	if err != nil {
		h.writeServiceError(w, requestID, "validate", err, nil)
		return
	}

	h.writeOK(w, result)
}

// Describe handles POST /api/layers/query/describe.
func (h *LayerQueriesHandler) Describe(w http.ResponseWriter, r *http.Request) {
	requestID := h.requestID(w)

	var req LayerQueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	level, ok := h.parseLevel(w, req.Level)
	if !ok {
		return
	}

	desc, err := h.service.Describe(r.Context(), req.SQL, level)
	if err != nil {
		h.writeServiceError(w, requestID, "describe", err, desc)
		return
	}

	h.writeOK(w, desc)
}

// Features handles POST /api/layers/query/features.
func (h *LayerQueriesHandler) Features(w http.ResponseWriter, r *http.Request) {
	requestID := h.requestID(w)

	var req LayerFeaturesRequest
	if !h.decode(w, r, &req) {
		return
	}
	level, ok := h.parseLevel(w, req.Level)
	if !ok {
		return
	}

	page := models.PageRequest{Bounds: req.Bounds, Limit: req.Limit, Offset: req.Offset}
	out, err := h.service.Features(r.Context(), req.SQL, level, page)
	if err != nil {
		h.writeServiceError(w, requestID, "features", err, out)
		return
	}

	h.writeOK(w, out)
}

func (h *LayerQueriesHandler) requestID(w http.ResponseWriter) string {
	id := uuid.New().String()
	w.Header().Set(RequestIDHeader, id)
	return id
}

// decode reads and struct-validates the JSON body, writing a 400 on failure.
func (h *LayerQueriesHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	if err := models.ValidateStruct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

// parseLevel maps an empty level to the service default.
func (h *LayerQueriesHandler) parseLevel(w http.ResponseWriter, raw string) (models.ValidationLevel, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	level, err := models.ParseValidationLevel(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_level", err.Error())
		return "", false
	}
	return level, true
}

// writeServiceError maps pipeline errors to HTTP statuses. partial, when
// non-nil, carries the validation result so callers can correct the query.
func (h *LayerQueriesHandler) writeServiceError(w http.ResponseWriter, requestID, operation string, err error, partial any) {
	status, code := classifyError(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error("Layer query request failed",
			zap.String("request_id", requestID),
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	response := ApiResponse{Success: false, Error: code, Message: logging.SanitizeError(err)}
	if partial != nil && !isNilPointer(partial) {
		response.Data = partial
	}
	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *LayerQueriesHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *LayerQueriesHandler) writeOK(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// classifyError returns the HTTP status and error code for a pipeline error.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidPage):
		return http.StatusBadRequest, "invalid_page"
	case errors.Is(err, apperrors.ErrQueryNotValid):
		return http.StatusUnprocessableEntity, "query_not_valid"
	case errors.Is(err, apperrors.ErrMissingRequiredColumn):
		return http.StatusUnprocessableEntity, "missing_required_column"
	case errors.Is(err, apperrors.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable, "database_unavailable"
	}

	if sqlState := pgErrorCode(err); sqlState != "" {
		switch {
		case sqlState == "57014":
			return http.StatusGatewayTimeout, "query_timeout"
		case strings.HasPrefix(sqlState, "22"), strings.HasPrefix(sqlState, "42"):
			// data exceptions and syntax or access rule violations come from
			// the submitted text
			return http.StatusUnprocessableEntity, "query_error"
		}
	}

	switch {
	case errors.Is(err, apperrors.ErrIntrospectionFailure):
		return http.StatusInternalServerError, "introspection_failed"
	case errors.Is(err, apperrors.ErrExecutionFailure):
		return http.StatusInternalServerError, "execution_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *services.LayerDescription:
		return p == nil
	case *services.FeaturePage:
		return p == nil
	}
	return false
}
