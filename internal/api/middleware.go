package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/noxfi/nox-indexer/internal/auth"
	"github.com/noxfi/nox-indexer/internal/metrics"
	"github.com/noxfi/nox-indexer/internal/model"
)

type ownerKey struct{}

// OwnerFromContext returns the owner set by RequireCapability.
func OwnerFromContext(ctx context.Context) model.OwnerID {
	owner, _ := ctx.Value(ownerKey{}).(model.OwnerID)
	return owner
}

// RequireCapability verifies the capability headers and stores the
// authenticated owner in the request context.
func (s *Service) RequireCapability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.verifier.Verify(r.Context(), r.Method, r.URL.Path,
			r.Header.Get(auth.HeaderSignature), r.Header.Get(auth.HeaderMessage))
		if err != nil {
			reason := authFailureReason(err)
			if reason == "" {
				s.internalError(w, "verify capability", err)
				return
			}
			metrics.AuthFailures.WithLabelValues(reason).Inc()
			s.logger.Debug("capability rejected", "path", r.URL.Path, "reason", reason, "err", err)
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// authFailureReason maps verifier sentinels to metric labels. An empty
// result means err came from the nonce store rather than the caller.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, auth.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, auth.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, auth.ErrWrongAction):
		return "wrong_action"
	case errors.Is(err, auth.ErrStale):
		return "stale"
	case errors.Is(err, auth.ErrReplay):
		return "replay"
	default:
		return ""
	}
}

// LimitMetadata rejects bodies over model.MaxMetadataSize with 413 before
// any authentication work is done, and buffers the body for the handler.
func LimitMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, model.MaxMetadataSize+1))
		if err != nil {
			writeError(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) > model.MaxMetadataSize {
			writeError(w, "metadata exceeds 4096 bytes", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// cors allows browser wallets to send the capability headers.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-signature, x-message, x-receiver-hash")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
