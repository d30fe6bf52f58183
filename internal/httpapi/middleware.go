package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// maxBodyBytes caps request bodies. Area boundaries arrive through the
// RPC endpoint and country polygons run to a few megabytes.
const maxBodyBytes = 8 << 20

type ctxKey int

const ipKey ctxKey = 0

// realIP resolves the client address once per request and stores it in
// the context. Proxy headers win over the socket peer because the
// daemon normally sits behind a reverse proxy.
func realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Real-Ip")
		if ip == "" {
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				ip, _, _ = strings.Cut(fwd, ",")
			}
		}
		ip = strings.TrimSpace(ip)
		if ip == "" {
			ip = remoteHost(r)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ipKey, ip)))
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ipKey).(string); ok {
		return ip
	}
	return remoteHost(r)
}

// banCheck rejects requests from banned addresses. Store failures fail
// open so a degraded database does not take the read API down with it.
func (a *API) banCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ban, err := a.store.SelectActiveBanByIP(r.Context(), clientIP(r), model.Now())
		if err == nil {
			writeError(w, http.StatusForbidden, "banned: "+ban.Reason)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			a.log.Warn("ban lookup failed", "ip", clientIP(r), "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter hands out one token bucket per client address. Entries for
// idle addresses are pruned inline once the map grows past a threshold,
// so no background goroutine is needed.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	rps     rate.Limit
	burst   int
}

const (
	limiterPruneLen = 10_000
	limiterIdleTTL  = 15 * time.Minute
)

func newIPLimiter(rps, burst int) *ipLimiter {
	return &ipLimiter{
		entries: make(map[string]*ipEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	e, ok := l.entries[ip]
	if !ok {
		if len(l.entries) >= limiterPruneLen {
			l.prune(now)
		}
		e = &ipEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

func (l *ipLimiter) prune(now time.Time) {
	for ip, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, ip)
		}
	}
}

func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// audit records every request in the metrics registry and, when a
// request log is configured, in the log database. The insert runs after
// the response so a slow disk never delays the client.
func (a *API) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		a.metrics.requests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		a.metrics.duration.WithLabelValues(r.Method).Observe(duration.Seconds())

		if a.reqLog == nil {
			return
		}
		req := &store.Request{
			IP:        clientIP(r),
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Status:    rec.status,
			Duration:  duration,
			CreatedAt: model.Now(),
		}
		if err := a.reqLog.InsertRequest(context.WithoutCancel(r.Context()), req); err != nil {
			a.log.Warn("failed to record request", "error", err)
		}
	})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// bearerToken extracts the secret from an Authorization: Bearer header,
// "" when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
