package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/crypto"
)

// MaxBodyBytes caps signed request bodies.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller proven by Signature, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// SignatureConfig configures request signature checks.
type SignatureConfig struct {
	MaxClockSkew time.Duration
	Replay       *ReplayGuard
	Now          func() time.Time
}

// Signature returns middleware that authenticates a request by its
// X-Caller, X-Timestamp and X-Signature headers. The signature covers the
// method, escaped path, timestamp and body. On success the caller is stored
// in the request context.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerHex := r.Header.Get(crypto.HeaderCaller)
			tsRaw := r.Header.Get(crypto.HeaderTimestamp)
			sig := r.Header.Get(crypto.HeaderSignature)
			if callerHex == "" || tsRaw == "" || sig == "" {
				writeUnauthorized(w, "missing signature headers")
				return
			}
			if !common.IsHexAddress(callerHex) {
				writeUnauthorized(w, "invalid caller")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid timestamp")
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)); skew > cfg.MaxClockSkew || -skew > cfg.MaxClockSkew {
				writeUnauthorized(w, "timestamp outside allowed skew")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeJSONError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller := common.HexToAddress(callerHex)
			digest := crypto.RequestDigest(r.Method, r.URL.EscapedPath(), ts, body)
			signer, err := crypto.RecoverCaller(digest, sig)
			if err != nil || signer != caller {
				writeUnauthorized(w, "invalid signature")
				return
			}
			// Keyed on what was signed, not on the header text, so a
			// re-encoded signature cannot replay the same request.
			if cfg.Replay != nil && cfg.Replay.Seen(replayKey(caller, digest)) {
				writeUnauthorized(w, "signature already used")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func replayKey(caller common.Address, digest []byte) string {
	return caller.Hex() + ":" + hex.EncodeToString(digest)
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
