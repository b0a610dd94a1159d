package dto

import (
	"strings"

	"github.com/iho/ynabimport/internal/domain"
)

// ConfirmRequest resumes a pending bank login.
type ConfirmRequest struct {
	SessionID string `json:"session_id"`
	// Code is the typed TAN; omit it for push confirmations.
	Code string `json:"code,omitempty"`
	// DryRun returns the normalized rows instead of creating them remotely.
	DryRun bool `json:"dry_run,omitempty"`
}

// Validate checks the request shape.
func (r ConfirmRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return &domain.ConfigError{Key: "session_id"}
	}
	return nil
}

// Answer converts the request to a challenge answer.
func (r ConfirmRequest) Answer() domain.ChallengeAnswer {
	return domain.ChallengeAnswer{Code: strings.TrimSpace(r.Code)}
}
