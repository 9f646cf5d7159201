package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware protects the admin surface with an HMAC-signed JWT. With
// no secret configured the middleware is a pass-through; deployments in
// front of untrusted networks set ADMIN_JWT_SECRET.
type AuthMiddleware struct {
	jwtSecret []byte
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	if jwtSecret == "" {
		log.Println("[API] ADMIN_JWT_SECRET not set; admin endpoints are unauthenticated")
	}
	return &AuthMiddleware{jwtSecret: []byte(jwtSecret)}
}

func (a *AuthMiddleware) verify(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid JWT claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("JWT missing sub claim")
	}

	return sub, nil
}

func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" || len(a.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		sub, err := a.verify(r)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"unauthorized","message":%q}`, err.Error()), http.StatusUnauthorized)
			return
		}

		log.Printf("[API] Admin request by %s: %s %s", sub, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
