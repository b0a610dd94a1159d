package comdirect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/iho/ynabimport/internal/domain"
)

const (
	tokenPath    = "/oauth/token"
	sessionsPath = "/api/session/clients/user/v1/sessions"

	grantSecondary = "cd_secondary"
)

type sessionResource struct {
	Identifier       string `json:"identifier"`
	SessionTanActive bool   `json:"sessionTanActive"`
	Activated2FA     bool   `json:"activated2FA"`
}

type onceAuthInfo struct {
	ID        string `json:"id"`
	Type      string `json:"typ"`
	Challenge string `json:"challenge,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// PasswordGrant exchanges client credentials and the user password for a
// short-lived access token.
func (c *Client) PasswordGrant(ctx context.Context, session *domain.Session) (string, error) {
	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.BaseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	tok, err := conf.PasswordCredentialsToken(ctx, c.cfg.Username, c.cfg.Password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			status := retrieveErr.Response.StatusCode
			c.metrics.ObserveRemote(serviceName, "password_grant", status, time.Since(start))
			return "", &domain.RemoteError{
				Op:         "password_grant",
				Kind:       domain.RemoteErrorKindFromStatus(status),
				StatusCode: status,
				Err:        domain.ErrUnexpectedResponse,
			}
		}
		c.metrics.ObserveRemote(serviceName, "password_grant", 0, time.Since(start))
		return "", &domain.RemoteError{Op: "password_grant", Kind: domain.RemoteNetwork, Err: err}
	}
	c.metrics.ObserveRemote(serviceName, "password_grant", http.StatusOK, time.Since(start))

	if tok.AccessToken == "" {
		return "", &domain.RemoteError{Op: "password_grant", Kind: domain.RemoteClient, StatusCode: http.StatusOK, Err: domain.ErrUnexpectedResponse}
	}
	return tok.AccessToken, nil
}

// IdentifySession returns the server-side session identifier.
func (c *Client) IdentifySession(ctx context.Context, session *domain.Session) (string, error) {
	var sessions []sessionResource
	_, err := c.do(ctx, request{
		op:      "identify_session",
		method:  http.MethodGet,
		path:    sessionsPath,
		session: session,
		token:   session.AccessToken,
		want:    http.StatusOK,
	}, &sessions)
	if err != nil {
		return "", err
	}

	if len(sessions) == 0 || sessions[0].Identifier == "" {
		return "", &domain.RemoteError{
			Op:         "identify_session",
			Kind:       domain.RemoteClient,
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("%w: empty session listing", domain.ErrUnexpectedResponse),
		}
	}
	return sessions[0].Identifier, nil
}

// ValidateSession asks the bank to issue a challenge for the session.
func (c *Client) ValidateSession(ctx context.Context, session *domain.Session) (*domain.Challenge, error) {
	header, err := c.do(ctx, request{
		op:      "validate_session",
		method:  http.MethodPost,
		path:    sessionsPath + "/" + url.PathEscape(session.SessionUUID) + "/validate",
		body:    activeSession(session.SessionUUID),
		session: session,
		token:   session.AccessToken,
		want:    http.StatusCreated,
	}, nil)
	if err != nil {
		return nil, err
	}

	challenge, err := parseChallenge(header.Get(headerOnceInfo))
	if err != nil {
		return nil, &domain.RemoteError{Op: "validate_session", Kind: domain.RemoteClient, StatusCode: http.StatusCreated, Err: err}
	}
	return challenge, nil
}

// ActivateSession submits the solved challenge.
func (c *Client) ActivateSession(ctx context.Context, session *domain.Session, answer domain.ChallengeAnswer) error {
	if session.Challenge == nil {
		return fmt.Errorf("%w: session has no challenge", domain.ErrInvalidTransition)
	}

	info, err := json.Marshal(onceAuthInfo{ID: session.Challenge.ID})
	if err != nil {
		return err
	}
	header := map[string]string{headerOnceInfo: string(info)}
	if answer.Code != "" {
		header[headerOnceTAN] = answer.Code
	}

	_, err = c.do(ctx, request{
		op:      "activate_session",
		method:  http.MethodPatch,
		path:    sessionsPath + "/" + url.PathEscape(session.SessionUUID),
		body:    activeSession(session.SessionUUID),
		session: session,
		token:   session.AccessToken,
		header:  header,
		want:    http.StatusOK,
	}, nil)
	return err
}

// SecondaryGrant exchanges the activated session for the final token pair.
func (c *Client) SecondaryGrant(ctx context.Context, session *domain.Session) (domain.TokenPair, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {grantSecondary},
		"token":         {session.AccessToken},
	}

	var tok tokenResponse
	_, err := c.do(ctx, request{
		op:     "secondary_grant",
		method: http.MethodPost,
		path:   tokenPath,
		form:   form.Encode(),
		want:   http.StatusOK,
	}, &tok)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return domain.TokenPair{}, &domain.RemoteError{
			Op:         "secondary_grant",
			Kind:       domain.RemoteClient,
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("%w: token pair incomplete", domain.ErrUnexpectedResponse),
		}
	}
	return domain.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

func activeSession(uuid string) sessionResource {
	return sessionResource{Identifier: uuid, SessionTanActive: true, Activated2FA: true}
}

func parseChallenge(raw string) (*domain.Challenge, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s header", domain.ErrUnexpectedResponse, headerOnceInfo)
	}

	var info onceAuthInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("%w: decode challenge: %v", domain.ErrUnexpectedResponse, err)
	}
	if info.ID == "" || info.Type == "" {
		return nil, fmt.Errorf("%w: challenge without id or type", domain.ErrUnexpectedResponse)
	}

	challenge := &domain.Challenge{Type: domain.ChallengeType(info.Type), ID: info.ID}
	if challenge.Type == domain.ChallengePhotoTAN {
		image, err := base64.StdEncoding.DecodeString(info.Challenge)
		if err != nil {
			return nil, fmt.Errorf("%w: decode challenge image: %v", domain.ErrUnexpectedResponse, err)
		}
		challenge.Image = image
	}
	return challenge, nil
}
