package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
)

// AuthUseCase drives the bank login state machine. Start runs up to the
// challenge and persists the session; Confirm rehydrates it, possibly in
// another process, and finishes the flow.
type AuthUseCase struct {
	bank         BankAuthenticator
	store        SessionStore
	idGen        IDGenerator
	clock        Clock
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	challengeTTL time.Duration
}

// NewAuthUseCase creates a new AuthUseCase. A zero challengeTTL means DefaultChallengeTTL.
func NewAuthUseCase(
	bank BankAuthenticator,
	store SessionStore,
	idGen IDGenerator,
	clock Clock,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
	challengeTTL time.Duration,
) *AuthUseCase {
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &AuthUseCase{
		bank:         bank,
		store:        store,
		idGen:        idGen,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
		challengeTTL: challengeTTL,
	}
}

// Start performs the machine-driven steps up to CHALLENGE_ISSUED and persists
// the session. The returned session carries the challenge to present.
func (uc *AuthUseCase) Start(ctx context.Context) (*domain.Session, error) {
	now := uc.clock.Now()
	session := domain.NewSession(uc.idGen.Generate(), uc.idGen.Generate(), now)

	token, err := uc.bank.PasswordGrant(ctx, session)
	if err != nil {
		return nil, uc.fail(session, "password_grant", err)
	}
	session.AccessToken = token
	if err := uc.advance(session, domain.StateSessionPending); err != nil {
		return nil, err
	}

	uuid, err := uc.bank.IdentifySession(ctx, session)
	if err != nil {
		return nil, uc.fail(session, "identify_session", err)
	}
	session.SessionUUID = uuid
	if err := uc.advance(session, domain.StateSessionIdentified); err != nil {
		return nil, err
	}

	challenge, err := uc.bank.ValidateSession(ctx, session)
	if err != nil {
		return nil, uc.fail(session, "validate_session", err)
	}
	session.Challenge = challenge
	session.ExpiresAt = uc.clock.Now().Add(uc.challengeTTL)
	if err := uc.advance(session, domain.StateChallengeIssued); err != nil {
		return nil, err
	}

	if err := uc.store.Save(ctx, session); err != nil {
		session.Fail()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	uc.logger.Info().
		Str("session_id", session.SessionID).
		Str("challenge_type", string(challenge.Type)).
		Time("expires_at", session.ExpiresAt).
		Msg("bank challenge issued")

	return session, nil
}

// Confirm resumes a persisted session with the human's answer and completes
// the secondary grant. Missing, wrong-phase and expired sessions fail without
// any network call.
func (uc *AuthUseCase) Confirm(ctx context.Context, sessionID string, answer domain.ChallengeAnswer) (*domain.Session, error) {
	if sessionID == "" {
		return nil, &domain.AuthStateError{State: domain.StateInit, Op: "confirm", Err: domain.ErrNoActiveSession}
	}

	session, err := uc.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			return nil, &domain.AuthStateError{State: domain.StateInit, Op: "confirm", Err: err}
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if session.State != domain.StateChallengeIssued || session.Challenge == nil {
		if session.State.Terminal() {
			uc.discard(ctx, session)
		}
		return nil, &domain.AuthStateError{State: session.State, Op: "confirm", Err: domain.ErrNoActiveSession}
	}

	if session.Expired(uc.clock.Now()) {
		uc.discard(ctx, session)
		if uc.metrics != nil {
			uc.metrics.AuthFailures.WithLabelValues(string(session.State)).Inc()
		}
		return nil, &domain.AuthStateError{State: session.State, Op: "confirm", Err: domain.ErrSessionExpired}
	}

	if session.Challenge.Type.RequiresCode() && answer.Code == "" {
		return nil, &domain.AuthStateError{State: session.State, Op: "confirm", Err: domain.ErrChallengeAnswerRequired}
	}

	// A challenge can be answered once. The persisted state is consumed before
	// the network call so a failed activation cannot be replayed.
	if err := uc.store.Delete(ctx, session.SessionID); err != nil {
		return nil, fmt.Errorf("consume session: %w", err)
	}

	if err := uc.bank.ActivateSession(ctx, session, answer); err != nil {
		return nil, uc.fail(session, "activate_session", err)
	}
	if err := uc.advance(session, domain.StateChallengeConfirmed); err != nil {
		return nil, err
	}

	tokens, err := uc.bank.SecondaryGrant(ctx, session)
	if err != nil {
		return nil, uc.fail(session, "secondary_grant", err)
	}
	session.AccessToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	session.Challenge = nil
	if err := uc.advance(session, domain.StateAuthenticated); err != nil {
		return nil, err
	}

	uc.logger.Info().Str("session_id", session.SessionID).Msg("bank session authenticated")

	return session, nil
}

func (uc *AuthUseCase) advance(session *domain.Session, to domain.SessionState) error {
	if err := session.Advance(to); err != nil {
		return uc.fail(session, "advance", err)
	}
	if uc.metrics != nil {
		uc.metrics.AuthTransitions.WithLabelValues(string(to)).Inc()
	}
	uc.logger.Debug().Str("session_id", session.SessionID).Str("state", string(to)).Msg("bank session advanced")
	return nil
}

// fail moves the session to FAILED and wraps err with the state it failed in.
func (uc *AuthUseCase) fail(session *domain.Session, op string, err error) error {
	var stateErr *domain.AuthStateError
	if errors.As(err, &stateErr) {
		session.Fail()
		return err
	}

	state := session.State
	session.Fail()
	if uc.metrics != nil {
		uc.metrics.AuthFailures.WithLabelValues(string(state)).Inc()
		uc.metrics.AuthTransitions.WithLabelValues(string(domain.StateFailed)).Inc()
	}
	uc.logger.Error().Err(err).Str("session_id", session.SessionID).Str("state", string(state)).Msg("bank login failed")

	return &domain.AuthStateError{State: state, Op: op, Err: err}
}

func (uc *AuthUseCase) discard(ctx context.Context, session *domain.Session) {
	if err := uc.store.Delete(ctx, session.SessionID); err != nil {
		uc.logger.Warn().Err(err).Str("session_id", session.SessionID).Msg("failed to delete stale session")
	}
}
