// SPDX-License-Identifier: GPL-3.0-only

package api

import (
	"net/http"

	"github.com/google/uuid"
)

// headerRequestID carries the request correlation ID.
const headerRequestID = "X-Request-ID"

// requestID tags every request with a correlation ID, honouring one the
// client already sent.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(headerRequestID, reqID)
		next.ServeHTTP(w, r)
	})
}
