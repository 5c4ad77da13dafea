// Package errors provides the error taxonomy of the log store and its HTTP mapping.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// QueryErrorResponse is returned when a paginated query fails. It carries an
// empty result list so list views stay renderable while the error is visible.
type QueryErrorResponse struct {
	ErrorResponse
	ResultList []interface{} `json:"resultList"`
	CurrPage   int           `json:"currPage"`
	PrevPage   *int          `json:"prevPage"`
	NextPage   *int          `json:"nextPage"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError processes an error and writes an appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, code := h.classify(err)
	h.WriteErrorResponse(w, statusCode, code, err.Error(), r.Header.Get("X-Request-ID"))
}

// HandleQueryError writes a failed page: the error envelope plus an empty result list.
func (h *Handler) HandleQueryError(w http.ResponseWriter, r *http.Request, err error, pageNum int) {
	statusCode, code := h.classify(err)
	requestID := r.Header.Get("X-Request-ID")

	h.logger.Warn("query failed",
		zap.Int("status_code", statusCode),
		zap.String("error_code", code.String()),
		zap.Error(err),
		zap.String("request_id", requestID),
	)

	resp := QueryErrorResponse{
		ErrorResponse: ErrorResponse{
			Status:    "error",
			ErrorCode: code.String(),
			Message:   err.Error(),
			RequestID: requestID,
		},
		ResultList: []interface{}{},
		CurrPage:   pageNum,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) classify(err error) (int, ErrorCode) {
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.HTTPStatus(), se.Code
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, code ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", code.String()),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: code.String(),
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrCodeInvalidArgument, message, requestID)
}
