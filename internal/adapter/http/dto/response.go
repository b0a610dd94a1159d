package dto

import (
	"time"

	"github.com/iho/ynabimport/internal/domain"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ChallengeResponse is the task shown to the human between start and confirm.
type ChallengeResponse struct {
	Type domain.ChallengeType `json:"type"`
	ID   string               `json:"id"`
	// Image is base64 encoded by encoding/json.
	Image        []byte `json:"image,omitempty"`
	RequiresCode bool   `json:"requires_code"`
}

// SessionResponse describes a pending bank login. Tokens never leave the server.
type SessionResponse struct {
	SessionID string             `json:"session_id"`
	State     string             `json:"state"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Challenge *ChallengeResponse `json:"challenge,omitempty"`
}

// SessionFromDomain converts a session to its public view.
func SessionFromDomain(s *domain.Session) *SessionResponse {
	resp := &SessionResponse{
		SessionID: s.SessionID,
		State:     string(s.State),
	}
	if !s.ExpiresAt.IsZero() {
		expires := s.ExpiresAt
		resp.ExpiresAt = &expires
	}
	if c := s.Challenge; c != nil {
		resp.Challenge = &ChallengeResponse{
			Type:         c.Type,
			ID:           c.ID,
			Image:        c.Image,
			RequiresCode: c.Type.RequiresCode(),
		}
	}
	return resp
}

// ImportResponse reports one batch.
type ImportResponse struct {
	*domain.BatchSummary
	Total int `json:"total"`
	// Rows holds the sink output of a dry run.
	Rows string `json:"rows,omitempty"`
}

// ImportFromDomain converts a batch summary to a response.
func ImportFromDomain(s *domain.BatchSummary) *ImportResponse {
	return &ImportResponse{BatchSummary: s, Total: s.Total()}
}

// CategoryResponse is one selectable budget category.
type CategoryResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Group    string `json:"group"`
	FullName string `json:"full_name"`
}

// CategoriesFromDomain converts categories to responses.
func CategoriesFromDomain(categories []domain.Category) []CategoryResponse {
	result := make([]CategoryResponse, len(categories))
	for i, c := range categories {
		result[i] = CategoryResponse{ID: c.ID, Name: c.Name, Group: c.Group, FullName: c.FullName()}
	}
	return result
}
