package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultMaxAttempts caps how many 401s a single request may see before the
// session is declared expired.
const DefaultMaxAttempts = 3

// ErrSessionExpired is returned once the session cannot be recovered. Stored
// tokens are gone by then and the caller has to sign in again.
var ErrSessionExpired = errors.New("session expired")

const refreshKey = "refresh"

// Refresher trades a refresh token for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

type CoordinatorOptions struct {
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// OnSessionExpired runs after tokens are cleared because the session
	// could not be recovered. It is not called on Close.
	OnSessionExpired func()
	Logger           *slog.Logger
}

// RefreshCoordinator is an http.RoundTripper that attaches the stored access
// token and recovers from 401 responses. Concurrent 401s share one refresh
// call; everyone else waits for its result and then replays.
type RefreshCoordinator struct {
	base        http.RoundTripper
	store       TokenStore
	refresher   Refresher
	maxAttempts int
	onExpired   func()
	logger      *slog.Logger

	group singleflight.Group
	// guards the clear-and-notify step of expire
	expireMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewRefreshCoordinator(base http.RoundTripper, store TokenStore, refresher Refresher, opts CoordinatorOptions) *RefreshCoordinator {
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshCoordinator{
		base:        base,
		store:       store,
		refresher:   refresher,
		maxAttempts: opts.MaxAttempts,
		onExpired:   opts.OnSessionExpired,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (rc *RefreshCoordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	if rc.closed() {
		closeBody(req)
		return nil, ErrSessionExpired
	}

	tokens, err := rc.store.Load()
	if err != nil {
		closeBody(req)
		return nil, err
	}
	if tokens.AccessToken == "" {
		return rc.base.RoundTrip(req)
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	sent := tokens.AccessToken
	for attempt := 1; ; attempt++ {
		resp, err := rc.send(req, getBody, sent)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		discard(resp)

		if attempt >= rc.maxAttempts {
			rc.logger.WarnContext(req.Context(), "refresh attempts exhausted",
				slog.Int("attempts", attempt),
				slog.String("url", req.URL.Redacted()),
			)
			rc.expire()
			return nil, ErrSessionExpired
		}

		sent, err = rc.nextAccessToken(req.Context(), sent)
		if err != nil {
			return nil, err
		}
	}
}

// Close rejects every caller still waiting on a refresh and cancels the one in
// flight. Stored tokens are left alone.
func (rc *RefreshCoordinator) Close() {
	rc.closeOnce.Do(func() {
		rc.cancel()
		close(rc.done)
	})
}

func (rc *RefreshCoordinator) closed() bool {
	select {
	case <-rc.done:
		return true
	default:
		return false
	}
}

// nextAccessToken returns the token to replay with after sent was rejected.
func (rc *RefreshCoordinator) nextAccessToken(ctx context.Context, sent string) (string, error) {
	tokens, err := rc.store.Load()
	if err != nil {
		return "", err
	}
	if tokens.AccessToken != "" && tokens.AccessToken != sent {
		return tokens.AccessToken, nil
	}

	ch := rc.group.DoChan(refreshKey, func() (any, error) {
		return rc.refresh(sent)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-rc.done:
		return "", ErrSessionExpired
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh runs at most once at a time. A caller that lost the race to an
// earlier refresh finds a newer token in the store and skips the network.
func (rc *RefreshCoordinator) refresh(sent string) (string, error) {
	tokens, err := rc.store.Load()
	if err != nil {
		return "", err
	}
	if tokens.AccessToken != "" && tokens.AccessToken != sent {
		return tokens.AccessToken, nil
	}
	if tokens.RefreshToken == "" {
		rc.expire()
		return "", ErrSessionExpired
	}

	rc.logger.Debug("refreshing session")
	next, err := rc.refresher.Refresh(rc.ctx, tokens.RefreshToken)
	if err != nil {
		if rc.ctx.Err() != nil {
			return "", ErrSessionExpired
		}
		rc.logger.Warn("session refresh failed", slog.Any("error", err))
		rc.expire()
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	if err := rc.store.Save(next); err != nil {
		return "", fmt.Errorf("saving refreshed tokens: %w", err)
	}
	return next.AccessToken, nil
}

// expire clears the session and notifies once per stored session.
func (rc *RefreshCoordinator) expire() {
	rc.expireMu.Lock()
	tokens, err := rc.store.Load()
	hadSession := err == nil && !tokens.Empty()
	if err := rc.store.Clear(); err != nil {
		rc.logger.Error("failed to clear tokens", slog.Any("error", err))
	}
	rc.expireMu.Unlock()

	if hadSession {
		rc.logger.Info("session expired")
		if rc.onExpired != nil {
			rc.onExpired()
		}
	}
}

func (rc *RefreshCoordinator) send(req *http.Request, getBody func() (io.ReadCloser, error), accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	out.Header.Set("Authorization", "Bearer "+accessToken)
	return rc.base.RoundTrip(out)
}

// replayableBody consumes req.Body once so every attempt can resend it.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}
