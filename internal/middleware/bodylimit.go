package middleware

import (
	"net/http"

	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/httputil"
)

// DefaultMaxBodySize fits a schedule with a full-length message and the
// maximum number of targets several times over.
const DefaultMaxBodySize = 64 << 10

// BodyLimit caps request bodies of methods that carry one. A declared length
// over the cap is refused up front; a streamed body is cut off by
// http.MaxBytesReader and surfaces as a decode error in the handler.
func BodyLimit(maxSize int64) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxSize {
				httputil.WriteError(w, apperrors.InvalidInput("body", "request body too large"))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
