package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iho/ynabimport/internal/adapter/http/dto"
	"github.com/iho/ynabimport/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	var (
		cfgErr    *domain.ConfigError
		parseErr  *domain.ParseError
		remoteErr *domain.RemoteError
	)

	switch {
	case errors.Is(err, domain.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrChallengeAnswerRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remoteErr):
		if remoteErr.Kind == domain.RemoteUnauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
