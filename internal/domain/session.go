package domain

import (
	"fmt"
	"time"
)

// SessionState is a state of the bank authentication flow.
type SessionState string

const (
	StateInit               SessionState = "INIT"
	StateSessionPending     SessionState = "SESSION_PENDING"
	StateSessionIdentified  SessionState = "SESSION_IDENTIFIED"
	StateChallengeIssued    SessionState = "CHALLENGE_ISSUED"
	StateChallengeConfirmed SessionState = "CHALLENGE_CONFIRMED"
	StateAuthenticated      SessionState = "AUTHENTICATED"
	StateFailed             SessionState = "FAILED"
)

var sessionTransitions = map[SessionState]SessionState{
	StateInit:               StateSessionPending,
	StateSessionPending:     StateSessionIdentified,
	StateSessionIdentified:  StateChallengeIssued,
	StateChallengeIssued:    StateChallengeConfirmed,
	StateChallengeConfirmed: StateAuthenticated,
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed
}

// ChallengeType is the kind of out-of-band confirmation the bank asks for.
type ChallengeType string

const (
	// ChallengePhotoTAN carries an image the user decodes into a typed code.
	ChallengePhotoTAN ChallengeType = "P_TAN"
	// ChallengePushTAN is approved on a paired device; no code is typed.
	ChallengePushTAN ChallengeType = "P_TAN_PUSH"
	// ChallengeMobileTAN delivers a code by SMS.
	ChallengeMobileTAN ChallengeType = "M_TAN"
)

// RequiresCode reports whether the answer must carry a typed code.
func (t ChallengeType) RequiresCode() bool {
	return t != ChallengePushTAN
}

// Challenge describes the secondary-authentication task returned by the bank.
type Challenge struct {
	Type  ChallengeType `json:"type"`
	ID    string        `json:"id"`
	Image []byte        `json:"image,omitempty"`
}

// ChallengeAnswer is what the human supplies to resume the flow.
type ChallengeAnswer struct {
	// Code is the typed TAN; empty for push confirmations.
	Code string
}

// Session is the persisted state of one login attempt. It contains secrets.
type Session struct {
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Challenge    *Challenge   `json:"challenge,omitempty"`
	SessionID    string       `json:"session_id"`
	RequestID    string       `json:"request_id"`
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	SessionUUID  string       `json:"session_uuid,omitempty"`
	State        SessionState `json:"state"`
}

// NewSession creates a session in INIT with the given correlation tokens.
func NewSession(sessionID, requestID string, now time.Time) *Session {
	return &Session{
		SessionID: sessionID,
		RequestID: requestID,
		State:     StateInit,
		CreatedAt: now,
	}
}

// Advance moves the session to the next state. Only the single forward edge of
// the current state is accepted.
func (s *Session) Advance(to SessionState) error {
	next, ok := sessionTransitions[s.State]
	if !ok || next != to {
		return &AuthStateError{
			State: s.State,
			Op:    "advance",
			Err:   fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to),
		}
	}
	s.State = to
	return nil
}

// Fail moves the session to the absorbing FAILED state.
func (s *Session) Fail() {
	s.State = StateFailed
	s.AccessToken = ""
	s.RefreshToken = ""
}

// Expired reports whether a pending challenge has outlived its window.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Authenticated reports whether the session holds final tokens.
func (s *Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.AccessToken != ""
}

// TokenPair is the final credential set issued by the secondary grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
