package auth

import (
	"net/http"
	"strings"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// skipPaths is the set of paths that do not require authentication.
var skipPaths = map[string]bool{
	"/health":       true,
	"/readyz":       true,
	"/metrics":      true,
	"/openapi":      true,
	"/openapi.json": true,
	"/openapi.yaml": true,
}

// ErrorWriter writes an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware returns HTTP middleware that requires a bearer API key or a
// valid presigned query string on every request except the system paths.
// On success the key ID is set on the request context.
func Middleware(verifier *Verifier, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if skipPaths[path] || strings.HasPrefix(path, "/docs") {
				next.ServeHTTP(w, r)
				return
			}

			var (
				keyID string
				err   error
			)
			switch DetectAuthMethod(r) {
			case "none":
				err = fserr.ErrUnauthenticated
			case "ambiguous":
				err = fserr.ErrAccessDenied.WithMessage("Only one auth mechanism allowed; found both Authorization header and query string signature")
			case "header":
				keyID, err = verifier.VerifyRequest(r)
			case "presigned":
				keyID, err = verifier.VerifyPresigned(r)
			}
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithKey(r.Context(), keyID)))
		})
	}
}
