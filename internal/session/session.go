// Package session attaches bearer credentials to API requests and recovers
// from expired access tokens.
//
// A Coordinator contributes two middlewares to the request chain. AttachAuth
// sets the Authorization header. HandleUnauthorized turns a 401 into at most
// one concurrent refresh per session generation, then replays each failed
// request exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/desurestar/RSOD-project/internal/credential"
	"github.com/desurestar/RSOD-project/internal/domain"
	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
	"github.com/desurestar/RSOD-project/pkg/httpclient"
	"github.com/desurestar/RSOD-project/pkg/logger"
	"github.com/desurestar/RSOD-project/pkg/tracing"
)

// DefaultExemptPaths are the endpoints whose 401s never trigger a refresh.
var DefaultExemptPaths = []string{"auth/token/", "auth/token/refresh/", "auth/register/"}

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogsync_session_refresh_total",
			Help: "Access token refresh attempts by result",
		},
		[]string{"result"},
	)

	replayTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogsync_session_replay_total",
			Help: "Requests replayed after a token refresh",
		},
	)
)

// errSuperseded marks a refresh that settled after logout or a new login.
var errSuperseded = errors.New("session generation superseded")

// Refresher exchanges a refresh token for a new access token. A non-empty
// Refresh in the result rotates the refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Tokens, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (domain.Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (domain.Tokens, error) {
	return f(ctx, refreshToken)
}

// Config tunes a Coordinator.
type Config struct {
	// RefreshTimeout bounds the shared refresh call.
	RefreshTimeout time.Duration
	// ExemptPaths are URL path suffixes never retried after a 401.
	ExemptPaths []string
	// OnExpired is called once per failed refresh, after tokens are cleared.
	OnExpired func(ctx context.Context, cause error)
	// BaseURL is the API root. When set, requests to any other scheme or
	// host get no credentials and never trigger a refresh.
	BaseURL string
}

// DefaultConfig returns a 10s refresh budget and the standard exempt endpoints.
func DefaultConfig() Config {
	return Config{
		RefreshTimeout: 10 * time.Second,
		ExemptPaths:    DefaultExemptPaths,
	}
}

// Coordinator owns the session's tokens in memory, writing through to a
// credential.Store.
type Coordinator struct {
	store     credential.Store
	refresher Refresher
	cfg       Config
	logger    *slog.Logger
	group     singleflight.Group
	origin    *url.URL

	// mu guards tokens and generation, and covers store write-back so a
	// refresh can never land after Logout.
	mu         sync.Mutex
	tokens     domain.Tokens
	generation uint64
}

// New creates a coordinator. Call Hydrate to pick up a stored session.
// An unparsable or relative BaseURL is an error.
func New(store credential.Store, refresher Refresher, cfg Config, l *slog.Logger) (*Coordinator, error) {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}
	if cfg.ExemptPaths == nil {
		cfg.ExemptPaths = DefaultExemptPaths
	}
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		logger:    l,
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("session base url %q is not absolute", cfg.BaseURL)
		}
		c.origin = u
	}
	return c, nil
}

// Hydrate loads tokens persisted by a previous run.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	tokens, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("hydrate session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
	return nil
}

// Establish starts a new session generation with tokens from login or registration.
func (c *Coordinator) Establish(ctx context.Context, tokens domain.Tokens) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(ctx, tokens); err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	c.generation++
	c.tokens = tokens
	return nil
}

// Logout ends the session. A refresh still in flight is disregarded when it settles.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.tokens = domain.Tokens{}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Tokens returns the current pair.
func (c *Coordinator) Tokens() domain.Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Authenticated reports whether a session is present.
func (c *Coordinator) Authenticated() bool {
	return c.Tokens().Complete()
}

// Generation returns the current session generation.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Middlewares returns HandleUnauthorized followed by AttachAuth, so that a
// replay passes through AttachAuth again and picks up the new token.
func (c *Coordinator) Middlewares() httpclient.Chain {
	return httpclient.Chain{c.HandleUnauthorized(), c.AttachAuth()}
}

type attemptKey struct{}

// attempt records which access token a request was sent with.
type attempt struct {
	token string
}

type replayKey struct{}

func isReplay(ctx context.Context) bool {
	v, _ := ctx.Value(replayKey{}).(bool)
	return v
}

// AttachAuth sets "Authorization: Bearer <access>" when a session exists.
// Exempt endpoints and anonymous requests pass through unmodified.
func (c *Coordinator) AttachAuth() httpclient.Middleware {
	return func(req *http.Request, next httpclient.Handler) (*http.Response, error) {
		if c.exempt(req.URL.Path) || !c.ownsOrigin(req.URL) {
			return next(req)
		}

		access := c.Tokens().Access
		if a, ok := req.Context().Value(attemptKey{}).(*attempt); ok {
			a.token = access
		}
		if access == "" {
			return next(req)
		}

		out := req.Clone(req.Context())
		out.Header.Set("Authorization", "Bearer "+access)
		return next(out)
	}
}

// HandleUnauthorized refreshes the session on a 401 and replays the request once.
func (c *Coordinator) HandleUnauthorized() httpclient.Middleware {
	return func(req *http.Request, next httpclient.Handler) (*http.Response, error) {
		ctx := req.Context()
		if isReplay(ctx) || !c.ownsOrigin(req.URL) {
			return next(req)
		}

		sent := &attempt{}
		resp, err := next(req.WithContext(context.WithValue(ctx, attemptKey{}, sent)))
		if err != nil || resp.StatusCode != http.StatusUnauthorized || c.exempt(req.URL.Path) {
			return resp, err
		}

		c.mu.Lock()
		current, gen := c.tokens, c.generation
		c.mu.Unlock()

		log := logger.WithContext(ctx, c.logger)
		if current.Refresh == "" {
			log.DebugContext(ctx, "401 without refresh token", slog.String("path", req.URL.Path))
			c.clearIfCurrent(ctx, gen)
			return resp, nil
		}

		replay, ok := replayable(req)
		if !ok {
			log.WarnContext(ctx, "401 on request with non-replayable body", slog.String("path", req.URL.Path))
			return resp, nil
		}
		discard(resp)

		if err := c.refresh(ctx, gen, sent.token); err != nil {
			return nil, err
		}

		replayTotal.Inc()
		log.DebugContext(ctx, "replaying request after refresh", slog.String("path", req.URL.Path))
		return next(replay(context.WithValue(ctx, replayKey{}, true)))
	}
}

// ownsOrigin reports whether u belongs to the API. Without a BaseURL every
// request does.
func (c *Coordinator) ownsOrigin(u *url.URL) bool {
	if c.origin == nil {
		return true
	}
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

// refresh waits for the shared refresh of requests sent with sentToken in
// generation gen, starting it if needed. Requests sent with an older token
// never share a call with those sent with the current one, since their call
// settles without refreshing. The waiter's own context only bounds the wait.
func (c *Coordinator) refresh(ctx context.Context, gen uint64, sentToken string) error {
	key := strconv.FormatUint(gen, 10) + "\x00" + sentToken
	ch := c.group.DoChan(key, func() (any, error) {
		return nil, c.doRefresh(ctx, gen, sentToken)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) doRefresh(parent context.Context, gen uint64, sentToken string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.RefreshTimeout)
	defer cancel()

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		refreshTotal.WithLabelValues("stale").Inc()
		return apperrors.SessionExpired(errSuperseded)
	}
	if c.tokens.Access != "" && c.tokens.Access != sentToken {
		// Refreshed since this request went out.
		c.mu.Unlock()
		refreshTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	refreshToken := c.tokens.Refresh
	c.mu.Unlock()

	ctx, span := tracing.Tracer("session").Start(ctx, "session.refresh")
	defer span.End()

	log := logger.WithContext(parent, c.logger)
	log.InfoContext(ctx, "refreshing access token", slog.Uint64("generation", gen))
	start := time.Now()

	issued, err := c.refresher.Refresh(ctx, refreshToken)
	if err == nil && issued.Access == "" {
		err = apperrors.Unauthorized("refresh returned no access token")
	}

	expired, cause := c.settle(ctx, gen, refreshToken, issued, err)
	if cause == nil {
		refreshTotal.WithLabelValues("success").Inc()
		log.InfoContext(ctx, "access token refreshed", slog.Duration("duration", time.Since(start)))
		return nil
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	if !expired {
		refreshTotal.WithLabelValues("stale").Inc()
		log.InfoContext(ctx, "refresh settled after session ended, result discarded")
		return apperrors.SessionExpired(cause)
	}

	refreshTotal.WithLabelValues("failure").Inc()
	log.WarnContext(ctx, "refresh failed, session expired", slog.String("error", cause.Error()))
	if c.cfg.OnExpired != nil {
		c.cfg.OnExpired(parent, cause)
	}
	return apperrors.SessionExpired(cause)
}

// settle writes back the refresh outcome if gen is still current. It reports
// whether the session was expired by this call, and the failure cause if any.
func (c *Coordinator) settle(ctx context.Context, gen uint64, refreshToken string, issued domain.Tokens, refreshErr error) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		if refreshErr != nil {
			return false, errors.Join(errSuperseded, refreshErr)
		}
		return false, errSuperseded
	}

	if refreshErr != nil {
		c.tokens = domain.Tokens{}
		if err := c.store.Clear(ctx); err != nil {
			c.logger.WarnContext(ctx, "clear tokens after failed refresh", slog.String("error", err.Error()))
		}
		return true, refreshErr
	}

	next := domain.Tokens{
		Access:          issued.Access,
		Refresh:         refreshToken,
		AccessExpiresAt: issued.AccessExpiresAt,
	}
	if issued.Refresh != "" {
		next.Refresh = issued.Refresh
	}
	if next.AccessExpiresAt.IsZero() {
		if exp, ok := credential.Expiry(next.Access); ok {
			next.AccessExpiresAt = exp
		}
	}

	// The in-memory pair stays authoritative even if persisting fails.
	c.tokens = next
	if err := c.store.Save(ctx, next); err != nil {
		c.logger.WarnContext(ctx, "persist refreshed tokens", slog.String("error", err.Error()))
	}
	return false, nil
}

func (c *Coordinator) clearIfCurrent(ctx context.Context, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.tokens = domain.Tokens{}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.WarnContext(ctx, "clear tokens", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) exempt(path string) bool {
	for _, suffix := range c.cfg.ExemptPaths {
		if strings.HasSuffix(path, suffix) || strings.HasSuffix(path+"/", suffix) {
			return true
		}
	}
	return false
}

// replayable returns a builder for a fresh copy of req, or false when the
// body cannot be read a second time.
func replayable(req *http.Request) (func(context.Context) *http.Request, bool) {
	hasBody := req.Body != nil && req.Body != http.NoBody
	if hasBody && req.GetBody == nil {
		return nil, false
	}

	var body io.ReadCloser
	if hasBody {
		b, err := req.GetBody()
		if err != nil {
			return nil, false
		}
		body = b
	}

	return func(ctx context.Context) *http.Request {
		out := req.Clone(ctx)
		if body != nil {
			out.Body = body
		}
		return out
	}, true
}

// discard drains a response that is about to be replaced by a replay.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
