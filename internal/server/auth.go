package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/bookinsight/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on every request
// reaching next. An empty apiKey disables the check; New logs that once at
// startup. Token values are never logged.
func authMiddleware(apiKey string, onReject rejectFunc, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	deny := func(w http.ResponseWriter, r *http.Request, reason, challenge string) {
		logging.FromContext(r.Context()).Warn("request unauthorized",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
		)
		if onReject != nil {
			onReject(reason)
		}
		w.Header().Set("WWW-Authenticate", challenge)
		writeError(w, http.StatusUnauthorized, strings.ReplaceAll(reason, "_", " "))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		switch {
		case !ok:
			deny(w, r, reasonMissingToken, `Bearer realm="bookinsight"`)
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			deny(w, r, reasonInvalidToken, `Bearer realm="bookinsight", error="invalid_token"`)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// bearerToken returns the credential of a Bearer Authorization header. The
// scheme match is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, cred, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}
