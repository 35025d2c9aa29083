/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer token validation
 * against the identity provider's JWKS, the admin gate, per-user rate limiting,
 * idempotency-key handling for money movement, and zap access logging.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and signature validation.
 * - github.com/go-chi/chi/v5/middleware: Request IDs and response wrapping.
 * - go.uber.org/zap: Structured logging.
 */

package api

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/banking-service/internal/app"
	"go.uber.org/zap"
)

const (
	internalAPIKeyHeader = "X-Internal-API-Key"
	idempotencyKeyHeader = "Idempotency-Key"
	idempotentReplayed   = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated caller as asserted by the bearer token.
type Identity struct {
	Subject string
	Role    string
}

// ContextWithIdentity returns a copy of ctx carrying id.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the authenticated caller from the request context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok && id.Subject != ""
}

// KeySource resolves the RSA public key for a token key id.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// JWKSCache fetches the identity provider's JWKS and keeps the parsed keys for ttl.
// An unknown kid forces a refresh so rotated keys are picked up.
type JWKSCache struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    ttl,
	}
}

func (c *JWKSCache) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	if strings.TrimSpace(c.url) == "" {
		return errors.New("jwks url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return fmt.Errorf("parse key %s: %w", key.Kid, err)
		}
		keys[key.Kid] = pub
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey parses RSA public key from modulus and exponent
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}

// ClerkAuthMiddleware validates RS256 bearer tokens and stores the caller's
// Identity in the request context.
func ClerkAuthMiddleware(keys KeySource, logger *zap.Logger) func(http.Handler) http.Handler {
	expectedAud := strings.TrimSpace(os.Getenv("CLERK_AUDIENCE"))
	expectedIss := strings.TrimSpace(os.Getenv("CLERK_ISSUER"))

	var opts []jwt.ParserOption
	opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if expectedAud != "" {
		opts = append(opts, jwt.WithAudience(expectedAud))
	}
	if expectedIss != "" {
		opts = append(opts, jwt.WithIssuer(expectedIss))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, errors.New("kid not found in token header")
				}
				return keys.PublicKey(r.Context(), kid)
			})
			if err != nil || !token.Valid {
				logger.Info("token rejected", zap.String("reason", "invalid_token"), zap.Error(err))
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			subject, _ := claims["sub"].(string)
			if strings.TrimSpace(subject) == "" {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}

			ctx := ContextWithIdentity(r.Context(), Identity{Subject: subject, Role: roleFromClaims(claims)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// roleFromClaims reads a top-level role claim, falling back to public_metadata.role.
func roleFromClaims(claims jwt.MapClaims) string {
	if role, ok := claims["role"].(string); ok {
		return strings.TrimSpace(role)
	}
	if meta, ok := claims["public_metadata"].(map[string]interface{}); ok {
		if role, ok := meta["role"].(string); ok {
			return strings.TrimSpace(role)
		}
	}
	return ""
}

// AdminMiddleware admits server-to-server callers presenting the internal API key,
// and otherwise authenticates the bearer token and requires the admin role.
func AdminMiddleware(authenticate func(http.Handler) http.Handler, adminRole, internalKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		requireRole := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || adminRole == "" || id.Role != adminRole {
				logger.Info("admin access denied",
					zap.String("endpoint", r.URL.Path),
					zap.String("reason", "missing_admin_role"),
					zap.String("subject", id.Subject),
				)
				writeError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
		withToken := authenticate(requireRole)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provided := r.Header.Get(internalAPIKeyHeader); provided != "" {
				if internalKey != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(internalKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			withToken.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is satisfied by app.RedisRateLimiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitMiddleware allows limit requests per caller per minute on the wrapped
// routes. Limiter errors are logged and the request is let through.
func RateLimitMiddleware(limiter RateLimiter, scope string, limit int, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, id.Subject, limit, time.Minute)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				logger.Info("rate limited",
					zap.String("endpoint", r.URL.Path),
					zap.String("outcome", "reject"),
					zap.String("reason", "rate_limited"),
					zap.String("subject", id.Subject),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyStore is satisfied by app.RedisIdempotencyStore.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string) (*app.StoredResponse, bool, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp app.StoredResponse) error
	Release(ctx context.Context, scope, key string) error
}

// IdempotencyMiddleware replays the stored response for a repeated Idempotency-Key.
// Keys are scoped per caller and bound to a hash of the request body. Only 2xx
// responses are stored; anything else releases the key so the client may retry.
// A 2xx whose response cannot be stored keeps the reservation until its TTL.
// Requests without the header pass straight through.
func IdempotencyMiddleware(store IdempotencyStore, scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}
			id, _ := IdentityFromContext(r.Context())
			callerScope := scope + ":" + id.Subject

			raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			if len(raw) > maxBodyBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
			sum := sha256.Sum256(bytes.TrimSpace(raw))
			fingerprint := hex.EncodeToString(sum[:])

			stored, acquired, err := store.Begin(r.Context(), callerScope, key, fingerprint)
			if errors.Is(err, app.ErrIdempotencyKeyReused) {
				writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
				return
			}
			if err != nil {
				logger.Error("idempotency store unavailable", zap.String("scope", scope), zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "Unable to process request. Please retry.")
				return
			}
			if stored != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(idempotentReplayed, "true")
				w.WriteHeader(stored.StatusCode)
				_, _ = w.Write(stored.Body)
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)

			completed := false
			defer func() {
				if completed {
					return
				}
				// Request context may already be done; the key must not stay reserved.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
				defer cancel()
				if err := store.Release(ctx, callerScope, key); err != nil {
					logger.Warn("failed to release idempotency key", zap.Error(err))
				}
			}()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status < 200 || status >= 300 {
				return
			}
			// The money has moved; never free the key from here on.
			completed = true
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer cancel()
			if err := store.Complete(ctx, callerScope, key, fingerprint, app.StoredResponse{StatusCode: status, Body: bytes.TrimSpace(body.Bytes())}); err != nil {
				logger.Error("failed to store idempotent response; key stays reserved until expiry",
					zap.String("scope", scope),
					zap.Error(err),
				)
			}
		})
	}
}

// RequestLogger writes one structured access log line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
