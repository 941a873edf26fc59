package errors

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/go-chi/render"
)

// Envelope is the wire shape of every error response.
type Envelope struct {
	Error     Kind        `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id"`
}

// requestIDFn resolves the request id for an in-flight request. Injected by
// the middleware package to avoid an import cycle.
type requestIDFn func(ctx context.Context) string

// Handler converts errors to envelopes and logs them with request context.
type Handler struct {
	logger    *slog.Logger
	requestID requestIDFn
}

// NewHandler creates an error handler. requestID may be nil, in which case
// envelopes carry an empty request id.
func NewHandler(logger *slog.Logger, requestID func(ctx context.Context) string) *Handler {
	if requestID == nil {
		requestID = func(context.Context) string { return "" }
	}
	return &Handler{
		logger:    logger.With(slog.String("component", "error_handler")),
		requestID: requestID,
	}
}

// Respond maps any error to the envelope and writes it. Deadline and
// cancellation errors from the request context surface as InternalError;
// everything typed passes through with its own status.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := h.requestID(r.Context())
	apiErr := AsAPIError(err)

	level := slog.LevelWarn
	if apiErr.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("kind", string(apiErr.Kind)),
		slog.Int("status", apiErr.StatusCode),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if apiErr.Kind == KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(60))
	}

	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, Envelope{
		Error:     apiErr.Kind,
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		RequestID: reqID,
	})
}

// RespondPanic logs a recovered panic and writes an InternalError envelope.
func (h *Handler) RespondPanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", h.requestID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)
	h.Respond(w, r, New(KindInternal, "An unexpected error occurred"))
}

// NotFound is the router's fallback handler for unknown paths.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.Respond(w, r, NotFoundf("Resource not found"))
}

// MethodNotAllowed is the router's fallback for known paths, wrong verb.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	e := Validationf("Method %s is not allowed for this endpoint", r.Method)
	e.StatusCode = http.StatusMethodNotAllowed
	h.Respond(w, r, e)
}
