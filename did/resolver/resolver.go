// Package resolver turns DIDs and DID URLs into DID Documents.
//
// Identifiers managed by this agent are projected from the local store. Any other DID is
// handed to the driver registered for its method, with a per-attempt timeout and bounded
// exponential backoff for retryable failures. Concurrent resolutions of one DID share a
// single driver call, and results can be cached.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/bluele/gcache"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/metrics"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultRetries         = 3
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second

	resolutionContext = "https://w3id.org/did-resolution/v1"
	contentTypeDIDLD  = "application/did+ld+json"
)

// Driver resolves DIDs of one method.
type Driver interface {
	Resolve(ctx context.Context, did string) (*did.Resolution, error)
}

// LocalSource projects locally managed identifiers. *did.Manager satisfies it.
type LocalSource interface {
	Document(ctx context.Context, did string) (*did.Document, error)
}

// Resolver resolves DIDs locally first, then through method drivers.
type Resolver struct {
	local    LocalSource
	drivers  map[string]Driver
	fallback Driver

	cache gcache.Cache
	group singleflight.Group

	timeout         time.Duration
	retries         uint64
	initialInterval time.Duration
	maxInterval     time.Duration

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocal resolves identifiers known to src from local state.
func WithLocal(src LocalSource) Option {
	return func(r *Resolver) {
		r.local = src
	}
}

// WithDriver registers d for DID method.
func WithDriver(method string, d Driver) Option {
	return func(r *Resolver) {
		r.drivers[method] = d
	}
}

// WithFallback resolves DIDs of methods without a registered driver.
func WithFallback(d Driver) Option {
	return func(r *Resolver) {
		r.fallback = d
	}
}

// WithCache keeps up to size driver results for ttl in an LRU cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Resolver) {
		if size <= 0 {
			return
		}

		b := gcache.New(size).LRU()
		if ttl > 0 {
			b = b.Expiration(ttl)
		}

		r.cache = b.Build()
	}
}

// WithTimeout bounds each driver attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithRetries sets how many times a retryable failure is retried.
func WithRetries(n uint64) Option {
	return func(r *Resolver) {
		r.retries = n
	}
}

// WithBackoff sets the first and largest wait between attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(r *Resolver) {
		r.initialInterval = initial
		r.maxInterval = max
	}
}

// WithMetrics records resolutions in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		drivers:         make(map[string]Driver),
		timeout:         DefaultTimeout,
		retries:         DefaultRetries,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		logger:          zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the DID Document of didURL. Path, query and fragment are ignored.
// The returned document may be shared with other callers and must not be modified.
func (r *Resolver) Resolve(ctx context.Context, didURL string) (*did.Document, error) {
	res, err := r.ResolveDID(ctx, didURL)
	if err != nil {
		return nil, err
	}

	return res.Document, nil
}

// ResolveDID is Resolve returning the full resolution result.
func (r *Resolver) ResolveDID(ctx context.Context, didURL string) (*did.Resolution, error) {
	u, err := did.Parse(didURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		r.metrics.ObserveResolution(u.Method, time.Since(start))
	}()

	if r.local != nil {
		doc, err := r.local.Document(ctx, u.DID)
		switch {
		case err == nil:
			r.logger.Debug("resolved from local store", zap.String("did", u.DID))
			r.metrics.IncResolution(u.Method, "local")

			return &did.Resolution{
				Context:            resolutionContext,
				Document:           doc,
				ResolutionMetadata: did.ResolutionMetadata{ContentType: contentTypeDIDLD},
			}, nil
		case !errors.Is(err, dErrors.ErrIdentifierNotFound):
			r.metrics.IncResolution(u.Method, "error")
			return nil, err
		}
	}

	if r.cache != nil {
		if v, err := r.cache.Get(u.DID); err == nil {
			r.logger.Debug("resolution cache hit", zap.String("did", u.DID))
			r.metrics.IncResolution(u.Method, "cache_hit")

			return v.(*did.Resolution), nil
		}
	}

	driver, ok := r.drivers[u.Method]
	if !ok {
		driver = r.fallback
	}

	if driver == nil {
		r.metrics.IncResolution(u.Method, "not_found")
		return nil, dErrors.ErrUnsupportedMethod.Errorf("no driver for did method %q", u.Method)
	}

	v, err := r.shared(ctx, driver, u)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			r.metrics.IncResolution(u.Method, "not_found")
		} else {
			r.metrics.IncResolution(u.Method, "error")
		}

		return nil, err
	}

	res := v.(*did.Resolution)

	if r.cache != nil {
		if err := r.cache.Set(u.DID, res); err != nil {
			r.logger.Warn("failed to cache resolution", zap.String("did", u.DID), zap.Error(err))
		}
	}

	r.metrics.IncResolution(u.Method, "ok")

	return res, nil
}

// shared joins the in-flight resolution of u.DID or starts one. The driver call runs
// detached from ctx; each caller stops waiting when its own ctx is done.
func (r *Resolver) shared(ctx context.Context, driver Driver, u *did.URL) (interface{}, error) {
	detached := context.WithoutCancel(ctx)

	ch := r.group.DoChan(u.DID, func() (interface{}, error) {
		return r.resolveWithRetry(detached, driver, u)
	})

	select {
	case <-ctx.Done():
		return nil, dErrors.ErrResolution.WithCause(ctx.Err(), "resolution of %s cancelled", u.DID)
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (r *Resolver) resolveWithRetry(ctx context.Context, driver Driver, u *did.URL) (*did.Resolution, error) {
	var res *did.Resolution

	attempt := 0
	op := func() error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		out, err := driver.Resolve(attemptCtx, u.DID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return dErrors.ErrResolution.WithCause(err, "attempt %d timed out after %s", attempt, r.timeout).MarkRetryable()
			}

			if dErrors.IsRetryable(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		res = out

		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	eb.MaxInterval = r.maxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.retries), ctx)

	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		r.logger.Warn("did resolution failed, retrying",
			zap.String("did", u.DID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, dErrors.ErrResolution.WithCause(err, "resolution of %s cancelled", u.DID)
		}

		return nil, err
	}

	r.logger.Debug("resolved did", zap.String("did", u.DID), zap.Int("attempts", attempt))

	return res, nil
}
