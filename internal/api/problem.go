package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/hyperengineering/bridge/internal/auth"
	"github.com/hyperengineering/bridge/internal/completion"
	"github.com/hyperengineering/bridge/internal/embedding"
	"github.com/hyperengineering/bridge/internal/ledger"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/summary"
	"github.com/hyperengineering/bridge/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest:          {"https://bridge.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:        {"https://bridge.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:            {"https://bridge.dev/errors/not-found", "Not Found"},
	http.StatusConflict:            {"https://bridge.dev/errors/conflict", "Conflict"},
	http.StatusUnprocessableEntity: {"https://bridge.dev/errors/validation-error", "Validation Error"},
	http.StatusTooManyRequests:     {"https://bridge.dev/errors/rate-limit", "Too Many Requests"},
	http.StatusInternalServerError: {"https://bridge.dev/errors/internal-error", "Internal Server Error"},
	http.StatusBadGateway:          {"https://bridge.dev/errors/upstream-rejected", "Bad Gateway"},
	http.StatusServiceUnavailable:  {"https://bridge.dev/errors/service-unavailable", "Service Unavailable"},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{
			typeURI: "https://bridge.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// WriteProblemUnauthorized writes a 401 with a bearer challenge.
func WriteProblemUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bridge"`)
	WriteProblem(w, r, http.StatusUnauthorized, detail)
}

// WriteProblemRateLimited writes a 429, advertising retryAfter when known.
func WriteProblemRateLimited(w http.ResponseWriter, r *http.Request, detail string, retryAfter float64) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
	}
	WriteProblem(w, r, http.StatusTooManyRequests, detail)
}

// MapError converts domain errors to Problem Details responses. Details
// are fixed per kind; upstream bodies and internal causes never reach the client.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", verrs)
	case errors.Is(err, ledger.ErrEmptySymptom):
		WriteProblemWithErrors(w, r, "Symptom text is required", []validation.ValidationError{
			{Field: "symptom", Message: "is required"},
		})
	case errors.Is(err, summary.ErrEmptyInput):
		WriteProblemWithErrors(w, r, "Current symptoms are required", []validation.ValidationError{
			{Field: "current_symptoms", Message: "is required"},
		})
	case errors.Is(err, store.ErrDuplicateEmail):
		WriteProblem(w, r, http.StatusConflict, "Email is already registered")
	case errors.Is(err, auth.ErrAuthenticationFailed):
		WriteProblemUnauthorized(w, r, "Invalid email or password")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		WriteProblemUnauthorized(w, r, "Missing or invalid bearer token")
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "User not found")
	case errors.Is(err, completion.ErrRateLimited):
		var after float64
		if d, ok := completion.RetryAfter(err); ok {
			after = d.Seconds()
		}
		WriteProblemRateLimited(w, r, "Summary service is rate limited, retry later", after)
	case errors.Is(err, completion.ErrUpstreamRejected):
		WriteProblem(w, r, http.StatusBadGateway, "Summary service rejected the request")
	case errors.Is(err, completion.ErrUpstreamUnavailable):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Summary service unavailable")
	case errors.Is(err, embedding.ErrEmbeddingUnavailable):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Embedding service unavailable")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
