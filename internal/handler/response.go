package handler

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      errors.Code `json:"code"`
	Message   string      `json:"message"`
	Field     string      `json:"field,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// httpStatus maps an error code to its HTTP status
func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidQuantity:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidTransition, errors.ErrCodeAlreadyDecided,
		errors.ErrCodeOverFulfillment, errors.ErrCodeUnderflow,
		errors.ErrCodeLockContention:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON error body. Lock contention carries a
// Retry-After hint.
func writeError(w http.ResponseWriter, err error) {
	detail := errorDetail{Code: errors.CodeOf(err), Message: err.Error()}
	var e *errors.Error
	if errors.As(err, &e) {
		detail.Field = e.Field
	}
	if errors.Retryable(err) {
		detail.Retryable = true
		w.Header().Set("Retry-After", "1")
	}
	if detail.Code == errors.ErrCodeInternal {
		detail.Message = "internal error"
	}
	writeJSON(w, httpStatus(detail.Code), errorBody{Error: detail})
}

// mapErrorToGRPC maps an error code to its gRPC status
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidQuantity:
		return status.Error(codes.InvalidArgument, errMsg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, errMsg)
	case errors.ErrCodeInvalidTransition, errors.ErrCodeAlreadyDecided,
		errors.ErrCodeOverFulfillment, errors.ErrCodeUnderflow:
		return status.Error(codes.FailedPrecondition, errMsg)
	case errors.ErrCodeLockContention:
		return status.Error(codes.Aborted, errMsg)
	default:
		return status.Error(codes.Internal, errMsg)
	}
}
