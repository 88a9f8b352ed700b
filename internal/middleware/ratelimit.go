package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Policy allows Limit attempts per key in each fixed Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// SignInPolicy bounds login and register attempts, counted separately per
// client address and per username.
var SignInPolicy = Policy{Limit: 10, Window: time.Minute}

// maxPeekBytes bounds how much of a sign-in body is read to find the username.
const maxPeekBytes = 64 << 10

// RealIP extracts the client's address, preferring CF-Connecting-IP, then the
// first X-Forwarded-For hop, then X-Real-IP, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	attempts int
	resetAt  time.Time
}

// RateLimiter counts attempts per key in memory.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records an attempt for key. It reports whether the attempt fits p and
// how long until the key's window resets.
func (rl *RateLimiter) Allow(key string, p Policy) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(p.Window)}
		rl.windows[key] = w
	}
	w.attempts++
	return w.attempts <= p.Limit, w.resetAt.Sub(now)
}

// Cleanup drops windows that have reset and returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// LimitSignIn rejects login and register requests once either the client
// address or the requested username has used up p. Both counters advance on
// every attempt.
func LimitSignIn(rl *RateLimiter, p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := rl.Allow("ip:"+RealIP(r), p)
			if name := peekUsername(r); name != "" {
				userOK, userWait := rl.Allow("user:"+name, p)
				if !userOK {
					ok = false
					wait = max(wait, userWait)
				}
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "Too many sign-in attempts, please try again later"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// peekUsername reads the username from a JSON body and puts the body back for
// the handler. Unreadable bodies yield "" and are left to the handler.
func peekUsername(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), r.Body))
	if err != nil {
		return ""
	}
	var body struct {
		Username string `json:"username"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Username))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
