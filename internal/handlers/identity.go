package handlers

import (
	"net/http"
	"strings"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultIdentityUserIDHeader = "X-Storefront-User-Id"
	identityEmailSuffix         = "-Email"
	identityNameSuffix          = "-Name"
	identityPhoneSuffix         = "-Phone"
	maxIdentityHeaderLength     = 256
)

// TrustedIdentityMiddleware reads the shopper identity injected by an authenticating proxy.
// userIDHeader names the id header; email, name and phone come from the same header name with
// the trailing "-Id" replaced by "-Email", "-Name" and "-Phone". Only mount it behind a proxy
// that strips these headers from client requests.
func TrustedIdentityMiddleware(userIDHeader string) func(http.Handler) http.Handler {
	userIDHeader = strings.TrimSpace(userIDHeader)
	if userIDHeader == "" {
		userIDHeader = defaultIdentityUserIDHeader
	}
	prefix := strings.TrimSuffix(userIDHeader, "-Id")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := requestctx.Identity{
				UserID: headerValue(r, userIDHeader),
				Email:  headerValue(r, prefix+identityEmailSuffix),
				Name:   headerValue(r, prefix+identityNameSuffix),
				Phone:  headerValue(r, prefix+identityPhoneSuffix),
			}
			if identity.IsZero() {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithIdentity(r.Context(), identity)))
		})
	}
}

func headerValue(r *http.Request, name string) string {
	value := strings.TrimSpace(r.Header.Get(name))
	if len(value) > maxIdentityHeaderLength {
		value = value[:maxIdentityHeaderLength]
	}
	return value
}
