// ABOUTME: Idempotency-Key middleware for the backend's POST routes
// ABOUTME: Replays stored replies for retried keys and rejects concurrent duplicates

package backend

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/remote"
	"github.com/2389/trident/internal/replycache"
)

// ReplayedHeader is set on responses served from the reply cache.
const ReplayedHeader = "Idempotent-Replayed"

// bodyRecorder tees the response so it can be stored after the handler runs.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *bodyRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotent serves a repeated Idempotency-Key from the reply cache. Keys
// are scoped to the authenticated user. Server errors are not stored, so a
// retry after a 5xx runs the request again.
func (s *Server) idempotent(next http.Handler) http.Handler {
	if s.replies == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(remote.IdempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		scoped := auth.UserFromContext(r.Context()) + "\x00" + r.URL.Path + "\x00" + key

		stored, err := s.replies.Begin(scoped)
		if errors.Is(err, replycache.ErrInFlight) {
			writeDetail(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
			return
		}
		if stored != nil {
			s.logger.Debug("replaying stored reply", "path", r.URL.Path, "status", stored.Status)
			if stored.ContentType != "" {
				w.Header().Set("Content-Type", stored.ContentType)
			}
			w.Header().Set(ReplayedHeader, "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.replies.Abandon(scoped)
				panic(p)
			}
			if rec.status >= http.StatusInternalServerError {
				s.replies.Abandon(scoped)
				return
			}
			s.replies.Complete(scoped, replycache.Entry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
		}()
		next.ServeHTTP(rec, r)
	})
}
