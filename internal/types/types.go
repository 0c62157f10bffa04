package types

import (
	"strings"
	"time"
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser carries the fields needed to insert a user row.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
}

// NormalizeEmail returns the canonical form used for storage and lookups.
// Emails are matched case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SymptomEntry is one append-only ledger record.
type SymptomEntry struct {
	ID       string    `json:"id"`
	UserID   string    `json:"-"`
	Text     string    `json:"text"`
	LoggedAt time.Time `json:"logged_at"`
}

// RetrievedEntry is a ledger entry returned by an index query with its relevance score.
type RetrievedEntry struct {
	SymptomEntry
	Score float64 `json:"score"`
}

// SummaryResult is the outcome of a successful summary composition.
type SummaryResult struct {
	Summary   string           `json:"summary"`
	Retrieved []RetrievedEntry `json:"retrieved"`
	Model     string           `json:"model"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateUserRequest is the body of POST /create-user.
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LogSymptomRequest is the body of POST /log-symptom.
type LogSymptomRequest struct {
	Symptom string `json:"symptom"`
}

// LogSymptomResponse is returned after a symptom has been recorded.
type LogSymptomResponse struct {
	Status string        `json:"status"`
	Entry  *SymptomEntry `json:"entry"`
}

// SymptomListResponse is returned by GET /symptoms.
type SymptomListResponse struct {
	Entries []SymptomEntry `json:"entries"`
}

// GenerateSummaryRequest is the body of POST /generate-summary.
type GenerateSummaryRequest struct {
	CurrentSymptoms string `json:"current_symptoms"`
}

// StoreStats contains aggregate store statistics.
type StoreStats struct {
	UserCount    int64 `json:"user_count"`
	SymptomCount int64 `json:"symptom_count"`
}

// IndexStats describes the in-memory symptom indexes.
type IndexStats struct {
	Users   int `json:"users"`
	Entries int `json:"entries"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	EmbeddingModel  string `json:"embedding_model"`
	CompletionModel string `json:"completion_model"`
	UserCount       int64  `json:"user_count"`
	SymptomCount    int64  `json:"symptom_count"`
	IndexedUsers    int    `json:"indexed_users"`
}
