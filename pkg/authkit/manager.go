package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/httpx"
	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/jwtx"
	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/keystore"
)

// DefaultRefreshBefore is the lead time before access-token expiry at which
// the proactive refresh fires.
const DefaultRefreshBefore = 60 * time.Second

// Config configures a Manager. BaseURL is the only required field.
type Config struct {
	// BaseURL is the backend origin, e.g. "https://api.example.com".
	BaseURL string

	// Store persists the session across restarts. Defaults to an
	// in-memory store, which means sessions die with the process.
	Store keystore.Store

	// HTTPClient overrides the underlying transport client.
	HTTPClient *http.Client

	// Timeout bounds each request when the caller's context has no
	// deadline. Zero means the transport default.
	Timeout time.Duration

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// AutoRefresh arms a timer that renews the access token
	// RefreshBefore ahead of its expiry.
	AutoRefresh bool

	// RefreshBefore is the proactive renewal lead time. Defaults to
	// DefaultRefreshBefore.
	RefreshBefore time.Duration

	// CookieMode marks a deployment where the refresh token lives in an
	// httpOnly cookie: refresh calls send an empty body and the cookie
	// jar carries the credential.
	CookieMode bool

	// RateLimit throttles outgoing requests to this many per second when
	// positive, with RateBurst extra headroom. Backends rate-limit the
	// auth endpoints aggressively; staying under the limit client-side
	// beats retrying 429s.
	RateLimit float64
	RateBurst int

	// OnSessionExpired fires at most once per session when a renewal
	// fails for a previously authenticated session. Logout rearms it.
	OnSessionExpired func()

	// OnChange observes every state transition. It is called outside the
	// Manager's lock, sequentially per transition.
	OnChange func(State)
}

// Manager is the auth state machine: it owns the session snapshot, runs the
// operations that mutate it, and keeps persisted and in-memory state in
// agreement. All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	store  keystore.Store
	logger *slog.Logger

	api         *Client
	interceptor *httpx.RefreshInterceptor

	// refreshGroup collapses concurrent renewals (proactive timer,
	// reactive 401s, manual calls) into one network call.
	refreshGroup singleflight.Group

	mu     sync.Mutex
	state  State
	epoch  uint64 // bumped by clear; stale async completions check it and no-op
	timer  *time.Timer
	booted bool
	closed bool
}

// New builds a Manager. It performs no I/O; call Bootstrap to adopt a
// persisted session.
func New(cfg Config) (*Manager, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("authkit: Config.BaseURL is required")
	}
	if cfg.RefreshBefore <= 0 {
		cfg.RefreshBefore = DefaultRefreshBefore
	}
	if cfg.Store == nil {
		cfg.Store = keystore.Memory()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		store:  cfg.Store,
		logger: cfg.Logger,
	}

	m.interceptor = httpx.NewRefreshInterceptor(
		m.RefreshToken,
		m.hasToken,
		httpx.WithSessionExpiredNotice(m.sessionExpired),
		httpx.WithRefreshLogger(cfg.Logger),
	)

	opts := []httpx.Option{
		httpx.WithTokenSource(m.currentToken),
		httpx.WithLogger(cfg.Logger),
		httpx.WithMiddleware(m.interceptor.Middleware()),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, httpx.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, httpx.WithTimeout(cfg.Timeout))
	}
	if cfg.CookieMode {
		opts = append(opts, httpx.WithCredentials())
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, httpx.WithRateLimit(rate.Limit(cfg.RateLimit), burst))
	}

	transport, err := httpx.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	m.api = NewClient(transport)

	return m, nil
}

// API returns the underlying endpoint client for authenticated calls beyond
// the session operations. Requests made through it share the Manager's token
// and reactive refresh.
func (m *Manager) API() *Client { return m.api }

// State returns the current session snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ============================================================================
// Bootstrap
// ============================================================================

// Bootstrap adopts a persisted session, once. A valid stored access token is
// adopted without network I/O; an expired one with a usable refresh token
// triggers exactly one silent renewal; anything else leaves the session
// empty. Subsequent calls are no-ops.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.booted {
		m.mu.Unlock()
		return nil
	}
	m.booted = true
	m.mu.Unlock()

	epoch, err := m.begin()
	if err != nil {
		return err
	}

	access, _ := m.store.Get(keystore.KeyAccessToken)
	refresh, _ := m.store.Get(keystore.KeyRefreshToken)

	if access != "" && !jwtx.IsExpiredAt(access, time.Now()) {
		claims, derr := jwtx.Decode(access)
		if derr == nil {
			user := m.loadStoredUser(claims)
			m.commitIf(epoch, func(st *State) {
				st.AccessToken = access
				st.RefreshToken = refresh
				st.User = user
				st.IsLoading = false
				m.scheduleRefreshLocked(claims)
			})
			return nil
		}
		m.logger.Warn("persisted access token unreadable, discarding", "error", derr)
	}

	if (refresh != "" && refreshUsable(refresh)) || m.cfg.CookieMode {
		if !m.commitIf(epoch, func(st *State) { st.RefreshToken = refresh }) {
			return nil
		}
		if rerr := m.RefreshToken(ctx); rerr != nil {
			// A failed silent renewal at startup is a cold start, not a
			// loud expiry: the session is already cleared, drop the error.
			m.logger.Info("startup token renewal failed, starting unauthenticated", "error", rerr)
			m.ClearError()
		}
		return nil
	}

	m.clear(nil, false)
	return nil
}

// loadStoredUser prefers the cached profile; an unreadable blob degrades to
// the claims-derived minimum rather than failing bootstrap.
func (m *Manager) loadStoredUser(claims *jwtx.Claims) *User {
	if raw, ok := m.store.Get(keystore.KeyUser); ok && raw != "" {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err == nil && u.ID != "" {
			return &u
		}
		m.logger.Warn("persisted user profile unreadable, deriving from token claims")
	}
	return userFromClaims(claims)
}

// refreshUsable reports whether a stored refresh token is worth sending. An
// opaque (non-JWT) token is always sent; the server is the judge. A JWT
// refresh token that is provably expired is not.
func refreshUsable(token string) bool {
	claims, err := jwtx.Decode(token)
	if err != nil {
		return true
	}
	return !claims.Expired(time.Now())
}

// ============================================================================
// Session Operations
// ============================================================================

// Login exchanges credentials for a session. On success tokens are persisted
// before in-memory state updates, then the authoritative profile is fetched;
// if that fetch fails the profile degrades to token claims and the login
// still succeeds. On failure state.Err is set and the error is returned.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	epoch, err := m.begin()
	if err != nil {
		return err
	}

	pair, err := m.api.Login(ctx, creds)
	if err != nil {
		m.fail(epoch, err)
		return err
	}

	claims, err := jwtx.Decode(pair.AccessToken)
	if err != nil {
		err = fmt.Errorf("authkit: login returned an unreadable access token: %w", err)
		m.fail(epoch, err)
		return err
	}

	if !m.commitWith(epoch, func() { m.persistTokens(pair) }, func(st *State) {
		st.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			st.RefreshToken = pair.RefreshToken
		}
	}) {
		// Cleared concurrently; the clear wins.
		return nil
	}

	user, perr := m.api.Me(ctx)
	if perr != nil {
		m.logger.Warn("profile fetch after login failed, deriving user from token claims", "error", perr)
		user = userFromClaims(claims)
	}

	m.commitWith(epoch, func() { m.persistUser(user) }, func(st *State) {
		st.User = user
		st.IsLoading = false
		st.Err = nil
		m.scheduleRefreshLocked(claims)
	})
	return nil
}

// Register creates an account. It never mutates the session: the new user
// logs in (or verifies their email first) afterwards.
func (m *Manager) Register(ctx context.Context, reg Registration) (*RegisterResponse, error) {
	var resp *RegisterResponse
	err := m.run(func() error {
		var e error
		resp, e = m.api.Register(ctx, reg)
		return e
	})
	return resp, err
}

// Logout revokes the session server-side on a best-effort basis, then tears
// down local state unconditionally. It never fails.
func (m *Manager) Logout(ctx context.Context) error {
	if _, err := m.begin(); err != nil {
		return err
	}

	if err := m.api.Logout(ctx); err != nil {
		m.logger.Warn("server-side logout failed, clearing local session anyway", "error", err)
	}

	m.clear(nil, true)
	return nil
}

// RefreshToken renews the access token now. Concurrent callers (the
// proactive timer, reactive 401 handling, manual calls) share one flight. A
// failed renewal clears the session and reports ErrSessionExpired.
func (m *Manager) RefreshToken(ctx context.Context) error {
	// The flight outlives any single caller's cancellation so one aborted
	// waiter cannot fail the shared renewal.
	flightCtx := context.WithoutCancel(ctx)
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(flightCtx)
	})
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	epoch := m.epoch
	refreshToken := m.state.RefreshToken
	hadAccess := m.state.AccessToken != ""
	hadSession := hadAccess || refreshToken != ""
	if !m.cfg.CookieMode && !hadSession {
		// Nothing to renew and nothing to tear down.
		m.mu.Unlock()
		return ErrNoRefreshToken
	}
	m.state.IsLoading = true
	m.state.Err = nil
	snap := m.state
	m.mu.Unlock()
	m.emit(snap)

	if m.cfg.CookieMode {
		// The cookie jar carries the credential; never send a body.
		refreshToken = ""
	} else if refreshToken == "" {
		// An access token without a refresh credential cannot outlive
		// its expiry.
		m.clear(ErrSessionExpired, false)
		m.interceptor.NotifyExpired()
		return ErrNoRefreshToken
	}

	pair, err := m.api.Refresh(ctx, refreshToken)
	if err == nil {
		var claims *jwtx.Claims
		claims, err = jwtx.Decode(pair.AccessToken)
		if err == nil {
			return m.adoptRefreshed(epoch, pair, claims)
		}
	}

	m.mu.Lock()
	stale := m.epoch != epoch || m.closed
	m.mu.Unlock()
	if stale {
		// Cleared while the renewal was in flight; discard the outcome.
		return nil
	}

	m.clear(ErrSessionExpired, false)
	if hadAccess {
		// Only a previously authenticated session gets the expiry notice;
		// a failed startup renewal is just a cold start.
		m.interceptor.NotifyExpired()
	}
	return fmt.Errorf("%w: %w", ErrSessionExpired, err)
}

// adoptRefreshed commits a successful renewal: persist first, then memory.
// The user is re-derived from claims only when the token identity changed;
// otherwise the richer cached profile stays.
func (m *Manager) adoptRefreshed(epoch uint64, pair *TokenPair, claims *jwtx.Claims) error {
	var newUser *User
	m.commitWith(epoch, func() {
		cur := m.state.User
		if cur == nil || cur.ID != claims.Subject() {
			newUser = userFromClaims(claims)
		}
		m.persistTokens(pair)
		if newUser != nil {
			m.persistUser(newUser)
		}
	}, func(st *State) {
		st.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			st.RefreshToken = pair.RefreshToken
		}
		if newUser != nil {
			st.User = newUser
		}
		st.IsLoading = false
		st.Err = nil
		m.scheduleRefreshLocked(claims)
	})
	return nil
}

// VerifyEmail redeems an email-verification token.
func (m *Manager) VerifyEmail(ctx context.Context, token string) (*MessageResponse, error) {
	return m.runMessage(func() (*MessageResponse, error) { return m.api.VerifyEmail(ctx, token) })
}

// ResendVerification requests a fresh verification email.
func (m *Manager) ResendVerification(ctx context.Context, email string) (*MessageResponse, error) {
	return m.runMessage(func() (*MessageResponse, error) { return m.api.ResendVerification(ctx, email) })
}

// ForgotPassword starts the password-reset flow.
func (m *Manager) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	return m.runMessage(func() (*MessageResponse, error) { return m.api.ForgotPassword(ctx, email) })
}

// ResetPassword redeems a reset token against a new password.
func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string) (*MessageResponse, error) {
	return m.runMessage(func() (*MessageResponse, error) { return m.api.ResetPassword(ctx, token, newPassword) })
}

// ClearError drops state.Err without touching anything else.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.state.Err = nil
	snap := m.state
	m.mu.Unlock()
	m.emit(snap)
}

// Close stops the refresh timer and releases the store if it holds
// resources. The session is left as-is; Close is teardown, not logout.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.epoch++
	m.stopTimerLocked()
	m.mu.Unlock()

	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ============================================================================
// Proactive renewal
// ============================================================================

// scheduleRefreshLocked (re)arms the proactive renewal timer for the given
// claims. Caller holds m.mu.
func (m *Manager) scheduleRefreshLocked(claims *jwtx.Claims) {
	m.stopTimerLocked()
	if !m.cfg.AutoRefresh || claims == nil || m.closed {
		return
	}

	d := claims.ExpiresIn(time.Now()) - m.cfg.RefreshBefore
	if d < 0 {
		d = 0
	}

	epoch := m.epoch
	m.timer = time.AfterFunc(d, func() { m.timerFired(epoch) })
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) timerFired(epoch uint64) {
	m.mu.Lock()
	stale := m.closed || m.epoch != epoch
	m.mu.Unlock()
	if stale {
		return
	}

	if err := m.RefreshToken(context.Background()); err != nil {
		m.logger.Warn("scheduled token renewal failed", "error", err)
	}
}

// ============================================================================
// Internals
// ============================================================================

// begin starts an operation: loading on, previous error cleared. It returns
// the epoch the operation's completion must present to commit.
func (m *Manager) begin() (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	epoch := m.epoch
	m.state.IsLoading = true
	m.state.Err = nil
	snap := m.state
	m.mu.Unlock()
	m.emit(snap)
	return epoch, nil
}

func (m *Manager) fail(epoch uint64, err error) {
	m.commitIf(epoch, func(st *State) {
		st.IsLoading = false
		st.Err = err
	})
}

// run wraps a non-session-mutating operation in the uniform loading/error
// contract.
func (m *Manager) run(op func() error) error {
	epoch, err := m.begin()
	if err != nil {
		return err
	}
	if err := op(); err != nil {
		m.fail(epoch, err)
		return err
	}
	m.commitIf(epoch, func(st *State) { st.IsLoading = false })
	return nil
}

func (m *Manager) runMessage(op func() (*MessageResponse, error)) (*MessageResponse, error) {
	var resp *MessageResponse
	err := m.run(func() error {
		var e error
		resp, e = op()
		return e
	})
	return resp, err
}

// commitIf applies mutate and notifies observers, unless the epoch moved on
// (a clear happened) since the operation began; then it is a no-op and
// reports false. Clearing always wins over in-flight completions.
func (m *Manager) commitIf(epoch uint64, mutate func(*State)) bool {
	return m.commitWith(epoch, nil, mutate)
}

// commitWith is commitIf with storage writes: persist and mutate run as one
// critical section under the epoch guard, storage before memory. A clear
// holds the same lock across ClearAll and the epoch bump, so no interleaving
// exists where a stale completion lands in the store but not in memory (or
// the reverse) — persisted and in-memory state agree after every completed
// operation.
func (m *Manager) commitWith(epoch uint64, persist func(), mutate func(*State)) bool {
	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		return false
	}
	if persist != nil {
		persist()
	}
	mutate(&m.state)
	snap := m.state
	m.mu.Unlock()
	m.emit(snap)
	return true
}

// clear tears the session down: persisted state, memory, and the epoch bump
// that invalidates in-flight completions, all under one lock so a concurrent
// commit can never land between them. failErr, when non-nil, survives the
// reset so callers can observe why (session expiry). rearm re-enables the
// one-shot expiry notice; only logout does that.
func (m *Manager) clear(failErr error, rearm bool) {
	m.mu.Lock()
	if err := m.store.ClearAll(); err != nil {
		m.logger.Warn("clearing persisted session failed", "error", err)
	}
	m.stopTimerLocked()
	m.epoch++
	m.state = State{Err: failErr}
	snap := m.state
	m.mu.Unlock()

	if rearm {
		m.interceptor.ResetExpiryNotice()
	}
	m.emit(snap)
}

// persistTokens writes tokens to the store before they enter memory. It runs
// inside commitWith's critical section. A store failure degrades the session
// to in-memory only; it never fails the operation.
func (m *Manager) persistTokens(pair *TokenPair) {
	if err := m.store.Set(keystore.KeyAccessToken, pair.AccessToken); err != nil {
		m.logger.Warn("persisting access token failed, session is memory-only", "error", err)
	}
	if pair.RefreshToken != "" {
		if err := m.store.Set(keystore.KeyRefreshToken, pair.RefreshToken); err != nil {
			m.logger.Warn("persisting refresh token failed", "error", err)
		}
	}
}

func (m *Manager) persistUser(u *User) {
	raw, err := json.Marshal(u)
	if err != nil {
		m.logger.Warn("encoding user profile failed", "error", err)
		return
	}
	if err := m.store.Set(keystore.KeyUser, string(raw)); err != nil {
		m.logger.Warn("persisting user profile failed", "error", err)
	}
}

func (m *Manager) currentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AccessToken
}

func (m *Manager) hasToken() bool { return m.currentToken() != "" }

// sessionExpired relays the interceptor's one-shot notice. The session is
// already cleared by the failed renewal at this point.
func (m *Manager) sessionExpired() {
	m.logger.Info("session expired")
	if m.cfg.OnSessionExpired != nil {
		m.cfg.OnSessionExpired()
	}
}

func (m *Manager) emit(s State) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(s)
	}
}
