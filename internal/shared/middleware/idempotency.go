package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader is the header for idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyTTL       = 24 * time.Hour
	idempotencyLockTTL   = 30 * time.Second
)

// storedResponse is the cached reply for a replayed idempotent request.
type storedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency returns a middleware that replays the stored response for
// requests repeating an Idempotency-Key, and rejects a key that is still
// being processed. Requests without the header pass through untouched.
func Idempotency(redis goredis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redis == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := idempotencyCacheKey(c, key)

		if cached, err := loadResponse(ctx, redis, cacheKey); err == nil && cached != nil {
			c.Data(cached.StatusCode, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := redis.SetNX(ctx, lockKey, "1", idempotencyLockTTL).Result()
		if err != nil {
			// Redis failure must not block payment traffic.
			c.Next()
			return
		}
		if !locked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "REQUEST_IN_PROGRESS",
					"message": "a request with this idempotency key is already being processed",
				},
			})
			return
		}
		defer redis.Del(ctx, lockKey)

		writer := &captureWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
		c.Writer = writer

		c.Next()

		// Only settled outcomes are replayable. A 5xx should be retried
		// against the handler, not served from cache.
		status := c.Writer.Status()
		if status >= 200 && status < 500 {
			storeResponse(ctx, redis, cacheKey, &storedResponse{
				StatusCode:  status,
				ContentType: c.Writer.Header().Get("Content-Type"),
				Body:        writer.body.Bytes(),
			})
		}
	}
}

func idempotencyCacheKey(c *gin.Context, key string) string {
	hash := sha256.Sum256([]byte(c.Request.Method + ":" + c.FullPath() + ":" + key))
	return idempotencyKeyPrefix + hex.EncodeToString(hash[:])
}

func loadResponse(ctx context.Context, redis goredis.UniversalClient, key string) (*storedResponse, error) {
	data, err := redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var resp storedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func storeResponse(ctx context.Context, redis goredis.UniversalClient, key string, resp *storedResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	redis.Set(ctx, key, data, idempotencyTTL)
}
