// Package auth implements API key authentication and presigned URLs for the
// file storage HTTP API.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bleepstore/filestorage/internal/config"
	fserr "github.com/bleepstore/filestorage/internal/errors"
)

const (
	bearerPrefix = "Bearer "

	// Presigned URL query parameters.
	ParamKey       = "fs-key"
	ParamExpires   = "fs-expires"
	ParamSignature = "fs-signature"
)

// contextKey is an unexported type for context keys in this package.
type contextKey int

const keyIDKey contextKey = iota

// KeyFromContext returns the ID of the API key that authenticated the request.
func KeyFromContext(ctx context.Context) string {
	v, _ := ctx.Value(keyIDKey).(string)
	return v
}

func contextWithKey(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, keyIDKey, keyID)
}

// Verifier checks bearer credentials and presigned URL signatures against a
// fixed set of API keys.
type Verifier struct {
	secrets    map[string][]byte
	maxPresign time.Duration
	now        func() time.Time
}

// NewVerifier returns a Verifier for the configured keys.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	v := &Verifier{
		secrets:    make(map[string][]byte, len(cfg.Keys)),
		maxPresign: time.Duration(cfg.MaxPresignSeconds) * time.Second,
		now:        time.Now,
	}
	for _, k := range cfg.Keys {
		v.secrets[k.ID] = []byte(k.Secret)
	}
	return v
}

// VerifyRequest checks an "Authorization: Bearer <id>:<secret>" header and
// returns the key ID.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
	if !ok {
		return "", fserr.ErrUnauthenticated
	}
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok {
		return "", fserr.ErrUnauthenticated.WithMessage("Malformed bearer token")
	}
	want, known := v.secrets[id]
	if !known || subtle.ConstantTimeCompare(want, []byte(secret)) != 1 {
		return "", fserr.ErrUnauthenticated.WithMessage("Invalid API key")
	}
	return id, nil
}

// Presign returns the query parameters that authorize method on path for ttl
// with the given key.
func (v *Verifier) Presign(keyID, method, path string, ttl time.Duration) (url.Values, error) {
	secret, ok := v.secrets[keyID]
	if !ok {
		return nil, fserr.ErrAccessDenied.WithMessage("Unknown API key %s", keyID)
	}
	if ttl <= 0 || (v.maxPresign > 0 && ttl > v.maxPresign) {
		return nil, fserr.ErrInvalidAttributes.WithMessage("Presign lifetime must be between 1s and %s", v.maxPresign)
	}
	expires := strconv.FormatInt(v.now().Add(ttl).Unix(), 10)

	q := url.Values{}
	q.Set(ParamKey, keyID)
	q.Set(ParamExpires, expires)
	q.Set(ParamSignature, signature(secret, method, path, expires))
	return q, nil
}

// VerifyPresigned checks the signature and expiry of a presigned request and
// returns the key ID.
func (v *Verifier) VerifyPresigned(r *http.Request) (string, error) {
	q := r.URL.Query()
	keyID := q.Get(ParamKey)
	expires := q.Get(ParamExpires)
	sig := q.Get(ParamSignature)
	if keyID == "" || expires == "" || sig == "" {
		return "", fserr.ErrAccessDenied.WithMessage("Query-string authentication requires %s, %s and %s", ParamKey, ParamExpires, ParamSignature)
	}

	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", fserr.ErrAccessDenied.WithMessage("Invalid %s", ParamExpires)
	}
	if v.now().Unix() > unix {
		return "", fserr.ErrAccessDenied.WithMessage("Request has expired")
	}

	secret, ok := v.secrets[keyID]
	if !ok {
		return "", fserr.ErrAccessDenied.WithMessage("Unknown API key %s", keyID)
	}
	want := signature(secret, r.Method, r.URL.Path, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return "", fserr.ErrAccessDenied.WithMessage("The request signature does not match")
	}
	return keyID, nil
}

// signature is hex(HMAC-SHA256(secret, method "\n" path "\n" expires)).
func signature(secret []byte, method, path, expires string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strings.ToUpper(method) + "\n" + canonicalPath(path) + "\n" + expires))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalPath normalizes an empty path to "/".
func canonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// DetectAuthMethod returns "header" for a bearer Authorization header,
// "presigned" for a signed query string, "none", or "ambiguous" when both
// are present.
func DetectAuthMethod(r *http.Request) string {
	hasHeader := strings.HasPrefix(r.Header.Get("Authorization"), bearerPrefix)
	hasQuery := r.URL.Query().Get(ParamSignature) != ""

	switch {
	case hasHeader && hasQuery:
		return "ambiguous"
	case hasHeader:
		return "header"
	case hasQuery:
		return "presigned"
	default:
		return "none"
	}
}
