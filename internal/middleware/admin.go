package middleware

import (
	"crypto/hmac"
	"net/http"
)

const adminTokenHeader = "X-Admin-Token"

// AdminAuth проверяет токен администратора в заголовке запроса.
// Админские команды исходной системы были защищены ролью в чате; здесь
// их HTTP-аналог закрыт статическим токеном из конфигурации.
type AdminAuth struct {
	token []byte
}

// NewAdminAuth создаёт middleware с указанным токеном. Пустой токен
// означает, что админский интерфейс выключен.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: []byte(token)}
}

// Middleware отклоняет запросы без корректного токена. Сравнение
// выполняется за постоянное время.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		got := []byte(r.Header.Get(adminTokenHeader))
		if !hmac.Equal(got, a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
