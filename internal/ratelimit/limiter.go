// Package ratelimit throttles requests per route class with counters in the
// shared cache, so the budget holds across server replicas.
//
// When the counter store is unreachable the limiter rejects with 503 rather
// than falling back to an in-process counter: a local counter looks like
// protection but provides none across instances. Availability is observed per
// request, so recovery takes effect immediately.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsedash/pulsedash/internal/platform/httpx"
	"github.com/pulsedash/pulsedash/internal/shared"
)

const outageLogInterval = 30 * time.Second

// Class describes one route class's budget.
type Class struct {
	Name   string
	Max    int
	Window time.Duration
	// CountFailuresOnly charges the budget only for responses with status
	// >= 400, so retry-after-success traffic is not penalized. Used for the
	// auth class.
	CountFailuresOnly bool
}

// Limiter enforces per-class request budgets.
type Limiter struct {
	client        *redis.Client
	logger        *slog.Logger
	callTimeout   time.Duration
	lastOutageLog atomic.Int64
}

// New constructs a Limiter.
func New(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, logger: logger, callTimeout: 2 * time.Second}
}

// Middleware returns the enforcement middleware for a route class.
func (l *Limiter) Middleware(class Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", class.Name, clientIP(r))
			if class.CountFailuresOnly {
				l.serveCountingFailures(w, r, next, key, class)
				return
			}
			l.serveCountingAll(w, r, next, key, class)
		})
	}
}

func (l *Limiter) serveCountingAll(w http.ResponseWriter, r *http.Request, next http.Handler, key string, class Class) {
	count, err := l.increment(r.Context(), key, class.Window)
	if err != nil {
		l.rejectUnavailable(w, err)
		return
	}
	if count > int64(class.Max) {
		httpx.RespondError(w, shared.ErrRateLimited)
		return
	}
	next.ServeHTTP(w, r)
}

func (l *Limiter) serveCountingFailures(w http.ResponseWriter, r *http.Request, next http.Handler, key string, class Class) {
	ctx, cancel := context.WithTimeout(r.Context(), l.callTimeout)
	count, err := l.client.Get(ctx, key).Int64()
	cancel()
	if err != nil && err != redis.Nil {
		l.rejectUnavailable(w, err)
		return
	}
	if count >= int64(class.Max) {
		httpx.RespondError(w, shared.ErrRateLimited)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(recorder, r)

	if recorder.status >= http.StatusBadRequest {
		if _, err := l.increment(r.Context(), key, class.Window); err != nil {
			// The response already went out; the lost count only widens the
			// budget by one, which the fail-closed pre-check bounds anyway.
			l.logOutage(err)
		}
	}
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (l *Limiter) rejectUnavailable(w http.ResponseWriter, err error) {
	l.logOutage(err)
	httpx.RespondError(w, shared.ErrLimiterUnavailable)
}

// logOutage records the degraded state at most once per interval so a long
// outage does not amplify log volume request-by-request.
func (l *Limiter) logOutage(err error) {
	now := time.Now().Unix()
	last := l.lastOutageLog.Load()
	if now-last < int64(outageLogInterval.Seconds()) {
		return
	}
	if l.lastOutageLog.CompareAndSwap(last, now) {
		l.logger.Error("rate limit store unreachable, rejecting limited routes", slog.Any("error", err))
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.written = true
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	if !r.written {
		r.written = true
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(data)
}
