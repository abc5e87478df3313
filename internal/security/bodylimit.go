// Package security carries the request hardening middleware for the cart API.
package security

import (
	"net/http"

	"github.com/keranjang-dev/keranjang/internal/common"
)

// BodyLimit rejects request bodies larger than Max bytes. Cart payloads are
// small; anything beyond the limit is a client bug or abuse.
type BodyLimit struct {
	Max int64
}

// Middleware enforces the limit on every request carrying a body.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}
