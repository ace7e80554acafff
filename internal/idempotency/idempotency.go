// Package idempotency replays the stored response of a request whose
// Idempotency-Key was already processed.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Header carries the client-chosen idempotency key.
	Header = "Idempotency-Key"
	// ReplayedHeader is set on responses served from the cache.
	ReplayedHeader = "X-Idempotency-Replayed"

	CacheKeyPrefix = "idempotency:"
	LockKeyPrefix  = "lock:"

	DefaultTTL         = 24 * time.Hour
	DefaultLockTimeout = 10 * time.Second

	maxKeyLength = 255
)

// Options configures the middleware. Zero values select defaults.
type Options struct {
	TTL         time.Duration
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// cached is the stored form of a completed response.
type cached struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// recorder captures the status and body written by the wrapped handler.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: msg})
}

// Middleware caches responses with status below 500 under their key and
// replays them for repeats. A repeat that arrives while the first request is
// still running gets 409. Requests without the header pass through.
func Middleware(rdb redis.Cmdable, opts Options) func(http.Handler) http.Handler {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Idempotency-Key is too long")
				return
			}

			ctx := r.Context()
			scoped := Scope(r.Method, r.URL.Path, key)
			cacheKey := CacheKeyPrefix + scoped
			lockKey := LockKeyPrefix + scoped
			klog := log.With(zap.String("idempotency_key", key))

			if hit, err := lookup(ctx, rdb, cacheKey); err != nil {
				klog.Error("idempotency lookup failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "idempotency store unavailable")
				return
			} else if hit != nil {
				klog.Debug("idempotency cache hit", zap.Int("status", hit.Status))
				replay(w, hit)
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "processing", opts.LockTimeout).Result()
			if err != nil {
				klog.Error("idempotency lock failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "idempotency store unavailable")
				return
			}
			if !acquired {
				klog.Warn("concurrent request with same idempotency key")
				writeError(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "a request with this idempotency key is being processed")
				return
			}

			bg := context.WithoutCancel(ctx)
			defer func() {
				if err := rdb.Del(bg, lockKey).Err(); err != nil {
					klog.Warn("releasing idempotency lock", zap.Error(err))
				}
			}()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			data, err := json.Marshal(cached{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				klog.Error("encoding idempotent response", zap.Error(err))
				return
			}
			if err := rdb.Set(bg, cacheKey, data, opts.TTL).Err(); err != nil {
				klog.Error("caching idempotent response", zap.Error(err))
			}
		})
	}
}

// Scope ties a client key to the request it was first used with, so reusing
// a key on another route or account does not replay an unrelated response.
func Scope(method, path, key string) string {
	return method + " " + path + ":" + key
}

func lookup(ctx context.Context, rdb redis.Cmdable, cacheKey string) (*cached, error) {
	raw, err := rdb.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c cached
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func replay(w http.ResponseWriter, c *cached) {
	if c.ContentType != "" {
		w.Header().Set("Content-Type", c.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(c.Status)
	_, _ = w.Write(c.Body)
}
