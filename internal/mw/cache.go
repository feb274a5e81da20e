package mw

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// CacheHeader reports whether a response was served from the cache.
const CacheHeader = "X-Cache"

// ResponseCache keeps successful GET responses for a fixed TTL, keyed on the path
// and the sorted query, and answers If-None-Match with 304 while the ETag holds.
type ResponseCache struct {
	entries *cache.Cache
	ttl     time.Duration
}

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
	etag    string
}

// NewResponseCache creates an empty cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{entries: cache.New(ttl, 2*ttl), ttl: ttl}
}

// bufferedWriter holds the body back so the ETag can be set before anything is sent.
type bufferedWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func cacheKey(r *http.Request) string {
	return r.URL.Path + "?" + r.URL.Query().Encode()
}

// Middleware serves cached responses and fills the cache on a miss.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(c.Request)
		if v, found := rc.entries.Get(key); found {
			serveCached(c, v.(cachedResponse), "HIT")
			c.Abort()
			return
		}

		original := c.Writer
		bw := &bufferedWriter{ResponseWriter: original}
		c.Writer = bw
		c.Next()
		c.Writer = original

		status := original.Status()
		if status < 200 || status >= 300 {
			original.Write(bw.body.Bytes())
			return
		}
		sum := sha256.Sum256(bw.body.Bytes())
		entry := cachedResponse{
			status:  status,
			headers: original.Header().Clone(),
			body:    bytes.Clone(bw.body.Bytes()),
			etag:    `"` + hex.EncodeToString(sum[:8]) + `"`,
		}
		rc.entries.Set(key, entry, rc.ttl)
		serveCached(c, entry, "MISS")
	}
}

func serveCached(c *gin.Context, e cachedResponse, state string) {
	h := c.Writer.Header()
	for k, v := range e.headers {
		h[k] = v
	}
	h.Set(CacheHeader, state)
	h.Set("ETag", e.etag)

	if c.GetHeader("If-None-Match") == e.etag {
		c.Writer.WriteHeader(http.StatusNotModified)
		c.Writer.WriteHeaderNow()
		return
	}
	c.Writer.WriteHeader(e.status)
	c.Writer.Write(e.body)
}
