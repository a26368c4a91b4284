package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Response is a cached GET response body with the headers needed to replay it.
type Response struct {
	ContentType string
	ETag        string
	Body        []byte
}

func newResponse(contentType string, body []byte) Response {
	sum := sha256.Sum256(body)
	return Response{
		ContentType: contentType,
		ETag:        `"` + hex.EncodeToString(sum[:8]) + `"`,
		Body:        append([]byte(nil), body...),
	}
}

// recorder holds the handler's status and body back until the ETag of a 200
// is known, so a MISS carries the same validator as later HITs.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *recorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

// flush sends the held response, returning the cacheable form of a 200.
func (w *recorder) flush() (Response, bool) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.status != http.StatusOK {
		w.ResponseWriter.WriteHeader(w.status)
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
		return Response{}, false
	}
	resp := newResponse(w.Header().Get("Content-Type"), w.body.Bytes())
	w.Header().Set("ETag", resp.ETag)
	w.ResponseWriter.WriteHeader(http.StatusOK)
	_, _ = w.ResponseWriter.Write(resp.Body)
	return resp, true
}

// CacheMiddleware caches successful GET responses in c, keyed by request URI
// (path and query), which is what CacheManager invalidates by. Every 200,
// cached or fresh, carries an ETag; a matching If-None-Match on a cached
// entry is answered with 304. A request sent with
// Cache-Control: no-cache skips the lookup and refreshes the entry. X-Cache
// reports HIT, MISS or BYPASS.
func CacheMiddleware(c *LRUCache[Response]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.RequestURI()
			state := "MISS"
			if noCache(r) {
				state = "BYPASS"
			} else if cached, ok := c.Get(key); ok {
				replay(w, r, cached)
				return
			}

			rec := &recorder{ResponseWriter: w}
			rec.Header().Set("X-Cache", state)
			next.ServeHTTP(rec, r)

			if resp, ok := rec.flush(); ok {
				c.Set(key, resp)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, cached Response) {
	h := w.Header()
	h.Set("X-Cache", "HIT")
	h.Set("ETag", cached.ETag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, cached.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if cached.ContentType != "" {
		h.Set("Content-Type", cached.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cached.Body)
}

func noCache(r *http.Request) bool {
	for _, v := range r.Header.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(d), "no-cache") {
				return true
			}
		}
	}
	return false
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
