package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"OrderSettlement/internal/services"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const actorKey ctxKey = iota

// Auth resolves the caller. With a secret it requires an HS256 bearer token
// whose sub claim is the user id and whose role claim is optional. Without
// one it trusts the X-User-Id and X-User-Role headers, for local development.
type Auth struct {
	Secret []byte
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (a Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actor(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a Auth) actor(r *http.Request) (services.Actor, error) {
	if len(a.Secret) == 0 {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			return services.Actor{}, fmt.Errorf("missing user id")
		}
		role, ok := services.ParseRole(r.Header.Get("X-User-Role"))
		if !ok {
			return services.Actor{}, fmt.Errorf("unknown role")
		}
		return services.Actor{UserID: userID, Role: role}, nil
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return services.Actor{}, fmt.Errorf("missing authorization")
	}
	parts := strings.Fields(auth)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return services.Actor{}, fmt.Errorf("invalid authorization header")
	}

	var c claims
	token, err := jwt.ParseWithClaims(parts[1], &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return services.Actor{}, fmt.Errorf("invalid token")
	}
	if c.Subject == "" {
		return services.Actor{}, fmt.Errorf("token has no subject")
	}
	role, ok := services.ParseRole(c.Role)
	if !ok {
		return services.Actor{}, fmt.Errorf("unknown role")
	}
	return services.Actor{UserID: c.Subject, Role: role}, nil
}

func actorFrom(r *http.Request) services.Actor {
	a, _ := r.Context().Value(actorKey).(services.Actor)
	return a
}

// requireRole rejects callers whose role is not listed. Admins always pass.
func requireRole(roles ...services.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actorFrom(r)
			if a.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if a.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}
