package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrKeyNotFound = errors.New("operator key not found")

// Profile is the back-office role of an operator.
type Profile string

const (
	ProfileAdmin     Profile = "Administrador"
	ProfileFinance   Profile = "Financeiro"
	ProfileRegistrar Profile = "Cadastrador"
	ProfileProvider  Profile = "Prestador"
)

type OperatorKey struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operator_id"`
	Name       string    `json:"name"`
	Profile    Profile   `json:"profile"`
	KeyHash    string    `json:"key_hash"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (k *OperatorKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(k)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (k *OperatorKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, k)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*OperatorKey, error)
	Create(ctx context.Context, k *OperatorKey) error
	Revoke(ctx context.Context, keyID string) error
}

// Cache is the subset of *redis.Client the middleware needs.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	operatorIDKey contextKey = "operator_id"
	profileKey    contextKey = "profile"
	requestIDKey  contextKey = "request_id"
)

const keyCacheTTL = 5 * time.Minute

func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func NewMiddleware(store Store, cache Cache, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			var k OperatorKey
			err := cache.Get(ctx, redisKey).Scan(&k)
			if err == nil && k.Active {
				next.ServeHTTP(w, r.WithContext(withOperator(ctx, &k)))
				return
			} else if err != nil && !errors.Is(err, redis.Nil) {
				log.Warn("operator key cache read failed", zap.Error(err))
			}

			found, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					writeError(w, http.StatusUnauthorized, "invalid operator key")
					return
				}
				log.Error("operator key lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if err := cache.Set(ctx, redisKey, found, keyCacheTTL).Err(); err != nil {
				log.Warn("operator key cache write failed", zap.Error(err))
			}

			next.ServeHTTP(w, r.WithContext(withOperator(ctx, found)))
		})
	}
}

// RequireProfile rejects operators whose profile is not listed.
func RequireProfile(profiles ...Profile) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := GetProfile(r.Context())
			for _, p := range profiles {
				if p == current {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "profile not allowed")
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func withOperator(ctx context.Context, k *OperatorKey) context.Context {
	ctx = context.WithValue(ctx, operatorIDKey, k.OperatorID)
	return context.WithValue(ctx, profileKey, k.Profile)
}

func GetOperatorID(ctx context.Context) string {
	if id, ok := ctx.Value(operatorIDKey).(string); ok {
		return id
	}
	return ""
}

func GetProfile(ctx context.Context) Profile {
	if p, ok := ctx.Value(profileKey).(Profile); ok {
		return p
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorIDKey, operatorID)
}

func WithProfile(ctx context.Context, p Profile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
