package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/hyperengineering/bridge/internal/types"
	"github.com/hyperengineering/bridge/internal/validation"
)

// maxBodyBytes bounds every JSON or form request body.
const maxBodyBytes = 64 << 10

// Accounts registers users and issues session tokens.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (*types.User, error)
	Login(ctx context.Context, email, password string) (*types.TokenResponse, error)
}

// SymptomLog appends to and reads from the symptom ledger.
type SymptomLog interface {
	Append(ctx context.Context, userID, text string, at time.Time) (*types.SymptomEntry, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]types.SymptomEntry, error)
}

// Indexes exposes the symptom index state the handlers need.
type Indexes interface {
	Ensure(ctx context.Context, userID string) error
	Stats() types.IndexStats
	Model() string
}

// Summarizer composes summaries from current input and retrieved history.
type Summarizer interface {
	Compose(ctx context.Context, userID, currentText string) (*types.SummaryResult, error)
}

// StatsSource reports aggregate store counts.
type StatsSource interface {
	GetStats(ctx context.Context) (*types.StoreStats, error)
}

// HandlerConfig collects the Handler's collaborators.
type HandlerConfig struct {
	Accounts        Accounts
	Gate            Authenticator
	Ledger          SymptomLog
	Index           Indexes
	Summaries       Summarizer
	Stats           StatsSource
	SummaryLimiter  *UserRateLimiter // nil disables limiting
	Metrics         http.Handler     // nil disables /metrics
	CompletionModel string
	Version         string
}

// Handler implements the API handlers
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cfg.Stats.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	resp := types.HealthResponse{
		Status:          "healthy",
		Version:         h.cfg.Version,
		EmbeddingModel:  h.cfg.Index.Model(),
		CompletionModel: h.cfg.CompletionModel,
		UserCount:       stats.UserCount,
		SymptomCount:    stats.SymptomCount,
		IndexedUsers:    h.cfg.Index.Stats().Users,
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateUser handles POST /create-user
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.cfg.Accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login handles POST /login. It accepts a JSON body or an OAuth2-style
// password form with username and password fields.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid form body")
			return
		}
		req.Email = r.FormValue("username")
		req.Password = r.FormValue("password")
	default:
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	var v validation.Collector
	v.Add(validation.ValidateRequired("email", req.Email))
	v.Add(validation.ValidateRequired("password", req.Password))
	if v.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", v.Errors())
		return
	}

	tok, err := h.cfg.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		MapError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tok)
}

// Me handles GET /users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MustUserFromContext(r.Context()))
}

// LogSymptom handles POST /log-symptom
func (h *Handler) LogSymptom(w http.ResponseWriter, r *http.Request) {
	user := MustUserFromContext(r.Context())

	var req types.LogSymptomRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.cfg.Ledger.Append(r.Context(), user.ID, req.Symptom, time.Time{})
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.LogSymptomResponse{
		Status: "logged",
		Entry:  entry,
	})
}

// ListSymptoms handles GET /symptoms
func (h *Handler) ListSymptoms(w http.ResponseWriter, r *http.Request) {
	user := MustUserFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
				{Field: "limit", Message: "must be a positive integer"},
			})
			return
		}
		limit = n
	}

	entries, err := h.cfg.Ledger.ListRecent(r.Context(), user.ID, limit)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SymptomListResponse{Entries: entries})
}

// GenerateSummary handles POST /generate-summary
func (h *Handler) GenerateSummary(w http.ResponseWriter, r *http.Request) {
	user := MustUserFromContext(r.Context())

	var req types.GenerateSummaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Indexes are in-memory; the first request after a restart builds one.
	if err := h.cfg.Index.Ensure(r.Context(), user.ID); err != nil {
		slog.Warn("index warm-up failed",
			"component", "api",
			"action", "ensure_index",
			"user_id", user.ID,
			"error", err,
		)
		MapError(w, r, err)
		return
	}

	result, err := h.cfg.Summaries.Compose(r.Context(), user.ID, req.CurrentSymptoms)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeJSON decodes a bounded JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
