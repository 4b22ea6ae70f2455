package rpc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"custodia/gateway/auth"
)

const idempotencyHeader = "Idempotency-Key"

type bufferingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *bufferingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *bufferingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

// idempotency replays the cached response for a repeated mutation carrying
// the same Idempotency-Key and body. Keys are scoped to the authenticated
// subject.
func (s *Server) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if s.store == nil || key == "" || (r.Method != http.MethodPost && r.Method != http.MethodDelete) {
			next.ServeHTTP(w, r)
			return
		}
		subject, _ := auth.Subject(r.Context())
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.badRequest(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
		hash := hex.EncodeToString(sum[:])

		cached, err := s.store.LookupIdempotency(r.Context(), subject, key, hash)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}

		buf := &bufferingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(buf, r)
		if buf.status < http.StatusInternalServerError {
			if err := s.store.SaveIdempotency(r.Context(), subject, key, hash, buf.status, buf.body.Bytes()); err != nil {
				s.log.Warn("idempotency save failed", "error", err)
			}
		}
	})
}
