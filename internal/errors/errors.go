// Package errors maps application failures onto the gofulmen error
// envelope and the HTTP error body served by the API.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/goccy/go-json"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/modpack"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// Error codes used in envelopes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeValidation         = "VALIDATION_ERROR"
)

const requestIDHeader = "X-Request-ID"

// AppError is an error with an HTTP status and a gofulmen envelope.
type AppError struct {
	Status   int
	Envelope *gferrors.ErrorEnvelope
	Err      error

	// Details is the details object of the HTTP body. The envelope context
	// only carries its scalar and string list values.
	Details map[string]any
}

func (e *AppError) Error() string {
	msg := e.Envelope.Message
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(status int, code, message string, err error) *AppError {
	return &AppError{
		Status:   status,
		Envelope: gferrors.NewErrorEnvelope(code, message),
		Err:      err,
	}
}

// WithDetails merges details into the response body. Values the envelope
// context accepts are copied there too; nested values such as maps stay
// in Details and the envelope's free-form details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	e.Envelope = e.Envelope.WithDetails(e.Details)

	scalars := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		if contextValue(v) {
			scalars[k] = v
		}
	}
	if len(scalars) > 0 {
		env, err := e.Envelope.WithContext(scalars)
		if err != nil {
			e.Details["context_error"] = err.Error()
		}
		e.Envelope = env
	}
	return e
}

// contextValue reports whether the gofulmen envelope context accepts v.
func contextValue(v any) bool {
	switch v := v.(type) {
	case string, float64, int, bool, []string:
		return true
	case []any:
		for _, elem := range v {
			if _, ok := elem.(string); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func NewBadRequest(message string) *AppError {
	return newAppError(http.StatusBadRequest, CodeBadRequest, message, nil)
}

func NewNotFound(message string) *AppError {
	return newAppError(http.StatusNotFound, CodeNotFound, message, nil)
}

func NewMethodNotAllowed(message string) *AppError {
	return newAppError(http.StatusMethodNotAllowed, CodeMethodNotAllowed, message, nil)
}

func NewServiceUnavailable(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, nil)
}

// NewExternalServiceError reports a failing dependency outside this process.
func NewExternalServiceError(message string) *AppError {
	return newAppError(http.StatusBadGateway, CodeExternalService, message, nil)
}

// WrapInternal wraps err as a 500. The correlation ID is taken from ctx
// when the request carried one.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	e := newAppError(http.StatusInternalServerError, CodeInternal, message, err)
	if id := correlationID(ctx); id != "" {
		e.Envelope = e.Envelope.WithCorrelationID(id)
	}
	return e
}

type correlationKey struct{}

// WithCorrelationID returns ctx carrying id for WrapInternal.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Classify converts any error into an AppError.
func Classify(ctx context.Context, err error) *AppError {
	var app *AppError
	if stderrors.As(err, &app) {
		return app
	}

	var verrs modpack.ValidationErrors
	switch {
	case curseforge.IsNotFound(err), stderrors.Is(err, syncstore.ErrNotFound):
		return newAppError(http.StatusNotFound, CodeNotFound, "resource not found", err)
	case stderrors.As(err, &verrs):
		problems := make([]string, 0, len(verrs))
		for _, v := range verrs {
			problems = append(problems, v.Error())
		}
		return newAppError(http.StatusUnprocessableEntity, CodeValidation, "manifest failed validation", err).
			WithDetails(map[string]any{"problems": problems})
	case stderrors.Is(err, modpack.ErrNotDistributableModpack), stderrors.Is(err, modpack.ErrNoDownloadURL),
		stderrors.Is(err, modpack.ErrNoManifest), stderrors.Is(err, modpack.ErrValidationFailed):
		return newAppError(http.StatusUnprocessableEntity, CodeValidation, err.Error(), err)
	case curseforge.StatusCode(err) > 0:
		return newAppError(http.StatusBadGateway, CodeExternalService, "CurseForge API request failed", err).
			WithDetails(map[string]any{"upstream_status": curseforge.StatusCode(err)})
	case stderrors.Is(err, context.DeadlineExceeded):
		return newAppError(http.StatusGatewayTimeout, CodeServiceUnavailable, "request timed out", err)
	default:
		return WrapInternal(ctx, err, "internal server error")
	}
}

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under "error".
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// RespondWithError writes err as a JSON error response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	app := Classify(r.Context(), err)

	body := HTTPErrorResponse{Error: HTTPError{
		Code:      app.Envelope.Code,
		Message:   app.Envelope.Message,
		RequestID: requestID(w, r),
		Details:   app.Details,
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(app.Status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := w.Header().Get(requestIDHeader); id != "" {
		return id
	}
	return r.Header.Get(requestIDHeader)
}
