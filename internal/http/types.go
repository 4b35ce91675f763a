package http

import (
	"github.com/fyrsmithlabs/signalforge/internal/policy"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status          string            `json:"status"`
	Version         string            `json:"version,omitempty"`
	PostingDisabled bool              `json:"posting_disabled"`
	Checks          map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is returned for every non-validation error. Reason is set
// when a draft is refused at intake.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// ValidationResponse is returned by POST /settings/validate and, with
// status 422, by any endpoint that rejects settings.
type ValidationResponse struct {
	Valid      bool               `json:"valid"`
	Violations []policy.Violation `json:"violations,omitempty"`
	Fields     []string           `json:"fields,omitempty"`
}

// CreateAccountRequest is the body for POST /accounts. Missing settings
// default to policy.DefaultSettings.
type CreateAccountRequest struct {
	ID       string           `json:"id"`
	Handle   string           `json:"handle"`
	Enabled  bool             `json:"enabled"`
	Settings *policy.Settings `json:"settings,omitempty"`
}

// EnabledRequest is the body for PUT /accounts/:id/enabled.
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// DraftRequest is the body for POST /accounts/:id/drafts.
type DraftRequest struct {
	ID         string  `json:"id"`
	Format     string  `json:"format"`
	Topic      string  `json:"topic"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	SourceText string  `json:"source_text,omitempty"` // what the draft was written from
}
