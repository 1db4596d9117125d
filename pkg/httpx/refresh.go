package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc renews the session's access token. On success the transport's
// TokenSource must already yield the new token.
type RefreshFunc func(ctx context.Context) error

// RefreshInterceptor is the reactive safety net for requests that race past
// proactive renewal: on a 401 it coordinates one shared refresh and retries
// each blocked request exactly once with the renewed token.
type RefreshInterceptor struct {
	refresh          RefreshFunc
	hasToken         func() bool
	onSessionExpired func()
	logger           *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	notified bool
}

// RefreshOption configures a RefreshInterceptor.
type RefreshOption func(*RefreshInterceptor)

// WithSessionExpiredNotice registers a callback fired at most once when a
// refresh fails while a token was held, i.e. a genuine session expiry
// rather than first-time unauthenticated access. ResetExpiryNotice rearms it.
func WithSessionExpiredNotice(fn func()) RefreshOption {
	return func(ri *RefreshInterceptor) { ri.onSessionExpired = fn }
}

// WithRefreshLogger sets the interceptor logger.
func WithRefreshLogger(logger *slog.Logger) RefreshOption {
	return func(ri *RefreshInterceptor) { ri.logger = logger }
}

// NewRefreshInterceptor builds the interceptor. hasToken reports whether
// the caller currently holds an access token; it distinguishes session
// expiry from plain unauthenticated traffic.
func NewRefreshInterceptor(refresh RefreshFunc, hasToken func() bool, opts ...RefreshOption) *RefreshInterceptor {
	ri := &RefreshInterceptor{
		refresh:  refresh,
		hasToken: hasToken,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ri)
	}
	return ri
}

// Middleware returns the transport middleware. Non-401 outcomes pass
// through untouched. A 401 joins the single in-flight refresh (starting it
// if idle), then retries once; the retry's outcome is final, so a request
// cannot loop.
func (ri *RefreshInterceptor) Middleware() Middleware {
	return func(next DoFunc) DoFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			resp, err := next(ctx, req)
			if req.SkipRefresh || !IsStatus(err, http.StatusUnauthorized) {
				return resp, err
			}

			hadToken := ri.hasToken != nil && ri.hasToken()

			if refreshErr := ri.await(ctx); refreshErr != nil {
				ri.logger.Debug("reactive refresh failed",
					"method", req.Method, "path", req.Path, "error", refreshErr)
				if hadToken {
					ri.notifyExpired()
				}
				// Parked requests fail with their own original 401.
				return nil, err
			}

			// Retry with the renewed token; exec re-reads the token source.
			return next(ctx, req)
		}
	}
}

// await joins the shared refresh flight. The flight runs detached from any
// single caller's cancellation so one aborted request cannot fail the whole
// parked burst; every waiter shares the one outcome.
func (ri *RefreshInterceptor) await(ctx context.Context) error {
	flightCtx := context.WithoutCancel(ctx)
	_, err, _ := ri.group.Do("refresh", func() (any, error) {
		return nil, ri.refresh(flightCtx)
	})
	return err
}

func (ri *RefreshInterceptor) notifyExpired() {
	ri.mu.Lock()
	fire := !ri.notified && ri.onSessionExpired != nil
	ri.notified = true
	ri.mu.Unlock()

	if fire {
		ri.onSessionExpired()
	}
}

// NotifyExpired fires the one-shot session-expired notice if it is still
// armed. Renewal paths that bypass the middleware (a proactive timer, a
// manual refresh) use it so expiry is reported no matter which path failed.
func (ri *RefreshInterceptor) NotifyExpired() {
	ri.notifyExpired()
}

// ResetExpiryNotice rearms the one-shot session-expired notification. The
// state machine calls it after a hard logout.
func (ri *RefreshInterceptor) ResetExpiryNotice() {
	ri.mu.Lock()
	ri.notified = false
	ri.mu.Unlock()
}
