package portal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/metrics"
	"github.com/goodtune/coxstatus/internal/session"
)

// Credentials are the account username and password
type Credentials struct {
	Username string
	Password string
}

// invalidator is implemented by resolvers that cache.
type invalidator interface {
	Invalidate()
}

// Authenticator performs the portal login handshake
type Authenticator struct {
	client    *Client
	session   *session.Session
	store     *session.Store
	constants ConstantsResolver
	creds     Credentials
	cfg       config.PortalConfig
	logger    zerolog.Logger
	newNonce  func() string
}

// NewAuthenticator creates an authenticator. store may be nil, in which case
// the session is not persisted after login.
func NewAuthenticator(
	client *Client,
	sess *session.Session,
	store *session.Store,
	constants ConstantsResolver,
	creds Credentials,
	cfg config.PortalConfig,
	logger zerolog.Logger,
) *Authenticator {
	return &Authenticator{
		client:    client,
		session:   sess,
		store:     store,
		constants: constants,
		creds:     creds,
		cfg:       cfg,
		logger:    logger.With().Str("component", "auth").Logger(),
		newNonce:  uuid.NewString,
	}
}

type authnRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authnResponse struct {
	Status       string `json:"status"`
	SessionToken string `json:"sessionToken"`
}

// Login runs the handshake. On success the session holds the login cookie
// and has been saved; on failure the session is left empty.
func (a *Authenticator) Login(ctx context.Context) error {
	a.logger.Info().Str("username", a.creds.Username).Msg("Logging in to portal")

	if err := a.login(ctx); err != nil {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		a.session.Clear()
		if inv, ok := a.constants.(invalidator); ok {
			inv.Invalidate()
		}
		a.logger.Error().Err(err).Msg("Login failed")
		return err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	a.logger.Info().Msg("Logged in")

	if a.store != nil {
		if err := a.store.Save(ctx, a.session); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to save login session, next start will log in again")
		}
	}

	if a.cfg.WarmupURL != "" {
		// Visiting the usage page creates the portal's server-side session
		if _, err := a.client.Get(ctx, "portal.warmup", a.cfg.WarmupURL, nil); err != nil {
			a.logger.Warn().Err(err).Msg("Warm-up request failed")
		}
	}
	return nil
}

func (a *Authenticator) login(ctx context.Context) error {
	const op = "portal.login"

	a.session.Clear()

	constants, err := a.constants.Resolve(ctx)
	if err != nil {
		return errs.Wrap(errs.KindAuth, op, "resolve login constants", err)
	}

	token, err := a.sessionToken(ctx, constants[ConstBaseURL])
	if err != nil {
		return err
	}

	scope := a.cfg.Scope
	if scope == "" {
		scope = constants[ConstScope]
	}
	state := a.cfg.State
	if state == "" {
		state = a.newNonce()
	}

	query := map[string]string{
		"client_id":     constants[ConstClientID],
		"redirect_uri":  a.cfg.RedirectURI,
		"response_type": "code",
		"response_mode": "query",
		"scope":         scope,
		"state":         state,
		"nonce":         a.newNonce(),
		"sessionToken":  token,
	}

	authorizeURL := joinURL(constants[ConstIssuer], a.cfg.AuthorizePath)
	resp, err := a.client.Get(ctx, op, authorizeURL, query)
	if err != nil {
		return errs.Wrap(errs.KindAuth, op, "authorization exchange", err)
	}
	if err := checkStatus(op, resp); err != nil {
		return errs.Wrap(errs.KindAuth, op, "authorization exchange", err)
	}

	// The portal answers 200 with a login page when the exchange is rejected
	if !a.session.Has(a.cfg.LoginCookie, a.cfg.LoginCookieDomain) {
		a.logger.Debug().
			Int("cookies", len(a.session.Snapshot())).
			Str("cookie", a.cfg.LoginCookie).
			Msg("Login cookie missing after authorization")
		return errs.Newf(errs.KindAuth, op, "login cookie %s not set", a.cfg.LoginCookie)
	}
	return nil
}

func (a *Authenticator) sessionToken(ctx context.Context, baseURL string) (string, error) {
	const op = "portal.authn"

	authnURL := joinURL(baseURL, a.cfg.AuthnPath)
	resp, err := a.client.R(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetBody(authnRequest{Username: a.creds.Username, Password: a.creds.Password}).
		Post(authnURL)
	if err != nil {
		return "", errs.Wrap(errs.KindAuth, op, "submit credentials",
			errs.Wrap(errs.KindNetwork, op, "POST "+authnURL, err))
	}
	if err := checkStatus(op, resp); err != nil {
		return "", errs.Wrap(errs.KindAuth, op, "credentials rejected", err)
	}

	var body authnResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", errs.Wrap(errs.KindAuth, op, "unreadable authentication response", err)
	}
	if body.SessionToken == "" {
		return "", errs.Newf(errs.KindAuth, op, "no session token in response (status %q)", body.Status)
	}
	return body.SessionToken, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
