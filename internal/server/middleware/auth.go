package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Wager-Address"
	HeaderTimestamp = "X-Wager-Timestamp"
	HeaderSignature = "X-Wager-Signature"
)

// MaxBodyBytes caps the request body read for signature verification.
const MaxBodyBytes = 1 << 20

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the verified caller address.
func WithPrincipal(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, principalKey{}, address)
}

// Principal returns the verified caller address, if any.
func Principal(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// AuthConfig configures request signature verification.
type AuthConfig struct {
	// MaxSkew bounds the distance between the signed timestamp and the
	// server clock.
	MaxSkew time.Duration
	// Replay, when set, remembers signatures for twice MaxSkew so a captured
	// request cannot be submitted again.
	Replay domain.LockManager
	Now    func() time.Time
}

// Auth returns middleware that verifies personal_sign request signatures.
// Requests without X-Wager-Address pass through anonymously; handlers that
// need a caller reject them. A request that presents an address but fails
// verification is rejected with 401.
func Auth(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := strings.TrimSpace(r.Header.Get(HeaderAddress))
			if address == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := verify(r, address, cfg)
			if err != nil {
				logger.WarnContext(r.Context(), "auth: rejected request",
					slog.String("address", address),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

var (
	errBadTimestamp = errors.New("invalid signature timestamp")
	errSkew         = errors.New("signature timestamp outside allowed window")
	errReplay       = errors.New("signature already used")
)

func verify(r *http.Request, address string, cfg AuthConfig) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errors.New("invalid address")
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return "", errBadTimestamp
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < -cfg.MaxSkew || skew > cfg.MaxSkew {
		return "", errSkew
	}
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return "", errors.New("missing signature")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return "", errors.New("unreadable body")
		}
		if len(body) > MaxBodyBytes {
			return "", errors.New("request body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := crypto.VerifyRequest(address, r.Method, r.URL.Path, ts, body, sig); err != nil {
		return "", errors.New("signature verification failed")
	}

	if cfg.Replay != nil {
		if _, err := cfg.Replay.Acquire(r.Context(), "sig:"+strings.ToLower(sig), 2*cfg.MaxSkew); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return "", errReplay
			}
			return "", err
		}
	}

	return common.HexToAddress(address).Hex(), nil
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":` + strconv.Quote(msg) + `,"code":"` + code + `"}`))
}
