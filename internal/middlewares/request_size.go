package middlewares

import (
	"net/http"
)

// RequestSizeLimitMiddleware rejects request bodies over maxRequestSize
// bytes. Declared oversize bodies are refused up front; chunked bodies are
// capped by the reader and fail inside the handler's decode instead.
func RequestSizeLimitMiddleware(maxRequestSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxRequestSize {
				errorBody(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
			next.ServeHTTP(w, r)
		})
	}
}
