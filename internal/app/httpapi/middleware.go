package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/selco13/treasury/internal/app/metrics"
	"github.com/selco13/treasury/pkg/logger"
)

type contextKey string

const (
	callerKey contextKey = "caller"
	adminKey  contextKey = "admin"
)

// Claims is the JWT payload issued to members and admins.
type Claims struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for a member. Used by tests and provisioning
// tooling; the API itself never issues tokens.
func GenerateToken(secret []byte, userID string, admin bool, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Admin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "treasury",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func validateToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// callerID returns the authenticated member ID from the request context.
func callerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey).(string)
	return id
}

func isAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey).(bool)
	return admin
}

// authMiddleware validates the bearer token and stashes the caller identity.
func (h *handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeErrorMessage(w, http.StatusUnauthorized, "missing authorization")
			return
		}

		claims, err := validateToken(h.jwtSecret, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, claims.UserID)
		ctx = context.WithValue(ctx, adminKey, claims.Admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards admin-only endpoints.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r.Context()) {
			writeErrorMessage(w, http.StatusForbidden, "admin required")
			return
		}
		next(w, r)
	}
}

// callerLimiter rate limits requests per authenticated caller, falling back
// to the remote address for unauthenticated paths.
type callerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

func newCallerLimiter(requestsPerMinute int, log *logger.Logger) *callerLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &callerLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
		log:      log,
	}
}

func (cl *callerLimiter) limiter(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.limiters) > 10000 {
		cl.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := cl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(cl.rate, cl.burst)
		cl.limiters[key] = lim
	}
	return lim
}

func (cl *callerLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !cl.limiter(key).Allow() {
			metrics.RecordThrottledRequest()
			cl.log.WithFields(map[string]any{
				"caller": key,
				"path":   r.URL.Path,
			}).Warn("caller rate limited")
			writeErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", message)
}
