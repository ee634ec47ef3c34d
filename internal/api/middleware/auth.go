package middleware

import (
	"net/http"
	"strings"

	"escrowflow/pkg/crypto"
)

// AdminAuth защищает административные endpoints токеном в заголовке
// Authorization: Bearer <token>. В конфигурации хранится только bcrypt-хеш.
//
// Пустой tokenHash выключает endpoints целиком (403): без настроенного
// токена перестроение таблиц через API недоступно.
func AdminAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.Error(w, "Admin endpoints disabled. Set ADMIN_TOKEN_HASH.", http.StatusForbidden)
				return
			}

			token, ok := bearerToken(r)
			if !ok || crypto.VerifyToken(token, tokenHash) != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
