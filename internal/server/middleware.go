package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/orvull/sparkcards/internal/auth"
	"github.com/orvull/sparkcards/internal/google"
	"github.com/orvull/sparkcards/internal/log"
)

const (
	headerRequestID = "X-Request-Id"
	headerStaffKey  = "X-Staff-Key"
)

// RequestLogger tags each request with an id and logs its outcome.
func RequestLogger(next http.Handler) http.Handler {
	logger := log.Module("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := logger.WithFields(logrus.Fields{
			log.FieldRequestID: id,
			log.FieldStatus:    rec.status,
			"method":           r.Method,
			"path":             r.URL.Path,
			"duration":         time.Since(start).String(),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	})
}

// ---------- rate limiting ----------

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientID(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, key)
		}
	}
	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// clientID keys the limiter on the address the nearest proxy saw. Earlier
// X-Forwarded-For hops come from the client and are ignored.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(hops[len(hops)-1])); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---------- staff auth ----------

type staffGate struct {
	keyHash  string
	verifier google.Verifier
	log      *logrus.Entry
}

func newStaffGate(keyHash string, verifier google.Verifier) staffGate {
	return staffGate{keyHash: keyHash, verifier: verifier, log: log.Module("http")}
}

func (g staffGate) enabled() bool {
	return g.keyHash != "" || g.verifier.Enabled()
}

// admit reports whether r carries either the staff key or a Google ID token
// accepted by the verifier. A disabled gate admits everything.
func (g staffGate) admit(r *http.Request) bool {
	if !g.enabled() {
		return true
	}
	if key := r.Header.Get(headerStaffKey); key != "" && g.keyHash != "" && auth.CheckStaffKey(g.keyHash, key) {
		return true
	}
	if tok, ok := bearerToken(r); ok && g.verifier.Enabled() {
		prof, err := g.verifier.VerifyIDToken(r.Context(), tok)
		if err == nil {
			g.log.WithField("staff", prof.Email).Debug("Staff token accepted")
			return true
		}
		g.log.WithError(err).Info("Staff token rejected")
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "staff credentials required", Kind: "unauthorized"})
}

// StaffAuth admits a request carrying either the staff key or a Google ID
// token accepted by the verifier. With neither configured every request
// passes.
func StaffAuth(keyHash string, verifier google.Verifier) func(http.Handler) http.Handler {
	gate := newStaffGate(keyHash, verifier)
	return func(next http.Handler) http.Handler {
		if !gate.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.admit(r) {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
