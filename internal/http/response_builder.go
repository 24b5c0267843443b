package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/middleware/trace"
	"tavola/internal/services"
	"tavola/internal/storage"

	"github.com/getsentry/sentry-go"
)

// statusClientClosedRequest answers requests whose client went away first.
const statusClientClosedRequest = 499

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps a service error to its response status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, core.ErrInvalidID):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPaymentMode),
		errors.Is(err, core.ErrInvalidDate):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "report timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError answers with the mapped status. Server errors are logged and
// sent to Sentry; client errors are not.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	ctx := r.Context()
	switch {
	case status >= http.StatusInternalServerError:
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err,
			log.ComponentHTTP, op, log.NewFields().WithErrorType(errorType(status)))
		if status == http.StatusInternalServerError {
			hub := sentry.GetHubFromContext(ctx)
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("request_id", trace.GetRequestID(ctx))
				scope.SetTag("operation", op)
				hub.CaptureException(err)
			})
		}
	case status == http.StatusUnprocessableEntity, status == http.StatusConflict:
		log.FromContext(ctx).DebugContext(ctx, "Rejected input",
			log.FieldOperation, op, log.FieldError, err.Error())
	}
	writeJSONError(w, status, msg)
}

func errorType(status int) string {
	if status == http.StatusGatewayTimeout {
		return log.ErrorTypeTimeout
	}
	return log.ErrorTypeInternal
}
