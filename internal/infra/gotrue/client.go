// Package gotrue is the Supabase Auth (GoTrue) adapter. It signs users in
// and out, keeps the access token fresh, and broadcasts auth events.
package gotrue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/events"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"
	"github.com/boddenberg/pj-clientes-go/internal/port"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("gotrue")

// errSessionChanged is returned by Refresh when the session it started
// from was signed out or replaced before the answer arrived.
var errSessionChanged = &domain.ErrUnauthorized{Message: "session changed during refresh"}

const (
	serviceName      = "gotrue"
	transientBackoff = 5 * time.Second
)

// Config configures the auth client.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RefreshMargin time.Duration
}

// Client implements port.AuthService on top of GoTrue.
type Client struct {
	http     *resty.Client
	profiles port.ProfileFetcher
	hub      *events.Hub
	margin   time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	session *domain.AuthSession
	timer   *time.Timer
	gen     uint64
	closed  bool
}

// NewClient creates a GoTrue client. profiles resolves tenant profiles for
// signed-in users.
func NewClient(cfg Config, profiles port.ProfileFetcher, metrics *observability.Metrics, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/auth/v1").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		profiles: profiles,
		hub:      events.NewHub(),
		margin:   cfg.RefreshMargin,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

var _ port.AuthService = (*Client)(nil)

// ============================================================
// Wire types
// ============================================================

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type signUpBody struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// errorResponse covers both GoTrue error shapes.
type errorResponse struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorResponse) message() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// ============================================================
// port.AuthService
// ============================================================

// Subscribe returns a subscription to auth events.
func (c *Client) Subscribe() port.Subscription {
	return c.hub.Subscribe()
}

// GetProfile delegates to the profile fetcher.
func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return c.profiles.GetProfile(ctx, userID)
}

// GetActiveSession returns the current session, or nil when signed out or
// when the access token already expired.
func (c *Client) GetActiveSession(_ context.Context) (*domain.AuthSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, nil
	}
	if !c.session.ExpiresAt.IsZero() && !c.now().Before(c.session.ExpiresAt) {
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

// AccessToken returns the bearer for data calls, or "" when signed out.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// SignIn exchanges credentials for a session and emits SignedIn.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "GoTrue.SignIn")
	defer span.End()

	var tok tokenResponse
	err := c.post(ctx, "/token?grant_type=password", passwordGrant{Email: email, Password: password}, &tok)
	if err != nil {
		span.RecordError(err)
		return err
	}

	sess, err := c.toSession(tok)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("user.id", sess.UserID))

	c.install(sess)
	c.logger.Info("gotrue: signed in", zap.String("user_id", sess.UserID))
	c.hub.Publish(domain.AuthEvent{Type: domain.EventSignedIn, UserID: sess.UserID})
	return nil
}

// SignUp registers the user with the tenant fields as user metadata. It
// does not sign in, even when the server confirms the account immediately.
func (c *Client) SignUp(ctx context.Context, req *domain.SignUpRequest) error {
	ctx, span := tracer.Start(ctx, "GoTrue.SignUp")
	defer span.End()

	body := signUpBody{
		Email:    req.Email,
		Password: req.Password,
		Data: map[string]any{
			"company_name":     req.CompanyName,
			"responsible_name": req.ResponsibleName,
			"accepted_terms":   req.AcceptedTerms,
		},
	}
	if err := c.post(ctx, "/signup", body, nil); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("gotrue: account registered", zap.String("email", req.Email))
	return nil
}

// SignOut revokes the session remotely and always drops it locally, then
// emits SignedOut.
func (c *Client) SignOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "GoTrue.SignOut")
	defer span.End()

	token := c.AccessToken()
	if token != "" {
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			Post("/logout")
		if err != nil || resp.IsError() {
			c.logger.Warn("gotrue: remote logout failed, signing out locally",
				zap.Error(err),
				zap.Int("status", statusOf(resp)),
			)
		}
	}

	c.clear()
	c.hub.Publish(domain.AuthEvent{Type: domain.EventSignedOut})
	return nil
}

// Refresh exchanges the refresh token for a new session and emits
// TokenRefreshed.
func (c *Client) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "GoTrue.Refresh")
	defer span.End()

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return &domain.ErrUnauthorized{Message: "no session to refresh"}
	}
	refreshToken := c.session.RefreshToken
	gen := c.gen
	c.mu.Unlock()

	var tok tokenResponse
	if err := c.post(ctx, "/token?grant_type=refresh_token", refreshGrant{RefreshToken: refreshToken}, &tok); err != nil {
		span.RecordError(err)
		return err
	}
	sess, err := c.toSession(tok)
	if err != nil {
		return err
	}

	// A sign-out or sign-in that landed while the request was in flight
	// wins over this answer.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || c.session == nil {
		c.logger.Debug("gotrue: discarding refresh for replaced session", zap.String("user_id", sess.UserID))
		return errSessionChanged
	}
	c.installLocked(sess)
	c.logger.Debug("gotrue: token refreshed",
		zap.String("user_id", sess.UserID),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	c.hub.Publish(domain.AuthEvent{Type: domain.EventTokenRefreshed, UserID: sess.UserID})
	return nil
}

// Close stops the refresh timer. The client emits no further events.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// ============================================================
// Session bookkeeping
// ============================================================

func (c *Client) install(sess *domain.AuthSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installLocked(sess)
}

func (c *Client) installLocked(sess *domain.AuthSession) {
	c.session = sess
	c.scheduleLocked(sess.ExpiresAt.Add(-c.margin).Sub(c.now()))
}

func (c *Client) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = nil
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// scheduleLocked arms the refresh timer. A newer schedule or a sign-out
// invalidates older timers through the generation counter.
func (c *Client) scheduleLocked(delay time.Duration) {
	if c.closed {
		return
	}
	if delay < 0 {
		delay = 0
	}
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() { c.refreshDue(gen) })
}

func (c *Client) refreshDue(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	expiresAt := c.session.ExpiresAt
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := c.Refresh(ctx)
	if err == nil || errors.Is(err, errSessionChanged) {
		return
	}

	var ext *domain.ErrExternalService
	if errors.As(err, &ext) && c.now().Before(expiresAt) {
		c.logger.Warn("gotrue: token refresh failed, retrying", zap.Error(err))
		c.mu.Lock()
		if gen == c.gen {
			c.scheduleLocked(transientBackoff)
		}
		c.mu.Unlock()
		return
	}

	c.logger.Warn("gotrue: token refresh rejected, signing out", zap.Error(err))
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.clear()
	c.hub.Publish(domain.AuthEvent{Type: domain.EventSignedOut})
}

// toSession builds a session from a token answer. The access token's
// claims fill in what the answer leaves out.
func (c *Client) toSession(tok tokenResponse) (*domain.AuthSession, error) {
	if tok.AccessToken == "" {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: errors.New("token response without access_token")}
	}

	sess := &domain.AuthSession{
		UserID:       tok.User.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch {
	case tok.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tok.ExpiresAt, 0)
	case tok.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	if sess.UserID == "" || sess.ExpiresAt.IsZero() {
		claims := &jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
			return nil, &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("parse access token: %w", err)}
		}
		if sess.UserID == "" {
			sess.UserID = claims.Subject
		}
		if sess.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
			sess.ExpiresAt = claims.ExpiresAt.Time
		}
	}
	if sess.UserID == "" {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: errors.New("token without subject")}
	}
	return sess, nil
}

// ============================================================
// HTTP
// ============================================================

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var apiErr errorResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErr)
	if result != nil {
		req.SetResult(result)
	}

	start := time.Now()
	resp, err := req.Post(path)
	if c.metrics != nil {
		c.metrics.RecordDuration("gotrue"+strings.SplitN(path, "?", 2)[0], time.Since(start))
	}
	if err != nil {
		c.logger.Error("gotrue: request failed", zap.String("path", path), zap.Error(err))
		c.recordError()
		return &domain.ErrExternalService{Service: serviceName, Err: err}
	}
	if resp.IsError() {
		c.logger.Warn("gotrue: non-2xx response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.String("error_code", apiErr.ErrorCode),
			zap.String("message", apiErr.message()),
		)
		mapped := mapError(resp.StatusCode(), apiErr)
		var ext *domain.ErrExternalService
		if errors.As(mapped, &ext) {
			c.recordError()
		}
		return mapped
	}
	return nil
}

func (c *Client) recordError() {
	if c.metrics != nil {
		c.metrics.IncrExternalError(serviceName)
	}
}

// mapError turns a GoTrue error answer into a domain error.
func mapError(status int, e errorResponse) error {
	msg := e.message()
	lower := strings.ToLower(msg)

	switch {
	case e.ErrorCode == "user_already_exists" || e.ErrorCode == "email_exists" ||
		strings.Contains(lower, "already registered"):
		return &domain.ErrConflict{Message: msg}
	case e.ErrorCode == "weak_password" || e.ErrorCode == "validation_failed" ||
		strings.Contains(lower, "password should be"):
		return &domain.ErrValidation{Field: "password", Message: msg}
	case e.ErrorCode == "invalid_credentials" || e.Error == "invalid_grant" ||
		e.ErrorCode == "refresh_token_not_found" || e.ErrorCode == "session_not_found" ||
		e.ErrorCode == "email_not_confirmed" || status == 401:
		return &domain.ErrUnauthorized{Message: msg}
	case status == 400 || status == 422:
		return &domain.ErrValidation{Message: msg}
	default:
		return &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("status %d: %s", status, msg)}
	}
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}
