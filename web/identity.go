package web

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gobeaver/beaver-social/logger"
	"github.com/gobeaver/beaver-social/oauth"
)

// Identity puts the browser's identity on the request context. The identity
// travels in an HS256 cookie; requests without a valid one get a new random
// identity and a fresh cookie.
func (h *Handler) Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.identity != "" {
			next.ServeHTTP(w, r.WithContext(oauth.WithIdentity(r.Context(), h.identity)))
			return
		}

		identity := ""
		if c, err := r.Cookie(h.cfg.CookieName); err == nil {
			id, err := h.signer.Verify(c.Value)
			if err != nil {
				logger.From(r.Context(), h.logger).Debug("identity cookie rejected", zap.Error(err))
			}
			identity = id
		}

		if identity == "" {
			identity = h.newIdentity()
			token, err := h.signer.Sign(identity)
			if err != nil {
				logger.From(r.Context(), h.logger).Error("identity cookie not issued", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "server_error", "identity unavailable")
				return
			}
			http.SetCookie(w, h.identityCookie(token))
		}

		next.ServeHTTP(w, r.WithContext(oauth.WithIdentity(r.Context(), identity)))
	})
}

func (h *Handler) identityCookie(token string) *http.Cookie {
	c := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		// Lax keeps the cookie on the provider's top level redirect back to
		// the callback.
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.CookieTTL > 0 {
		c.MaxAge = int(h.cfg.CookieTTL.Seconds())
	}
	return c
}

func newUUID() string { return uuid.NewString() }
