// Package middleware contains HTTP middleware for the settlement service.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akarpenko/settlement-system/internal/model"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	roleKey    contextKey = "role"
)

// RoleAdmin marks platform administrators; holder roles reuse the
// model.HolderType values.
const RoleAdmin = "admin"

// Auth verifies bearer tokens and gates routes by role.
type Auth struct {
	secret []byte
}

// NewAuth creates the auth middleware with the given HS256 signing secret.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Claims is the token payload: subject identifies the account, role is
// admin or a holder type.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for the subject and role.
func (a *Auth) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) parseBearer(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, errors.New("missing bearer token")
	}

	tokenStr := strings.TrimSpace(header[len("Bearer "):])

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// RequireAdmin passes only requests carrying a valid admin token.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parseBearer(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if claims.Role != RoleAdmin {
			writeAuthError(w, http.StatusForbidden, "admin access required")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireHolder passes only requests from vendor or delivery partner
// accounts and puts the holder identity into the request context.
func (a *Auth) RequireHolder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parseBearer(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if _, ok := model.ParseHolderType(claims.Role); !ok {
			writeAuthError(w, http.StatusForbidden, "holder access required")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HolderFromContext extracts the holder identity set by RequireHolder.
func HolderFromContext(ctx context.Context) (model.Holder, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	if !ok {
		return model.Holder{}, false
	}
	role, ok := ctx.Value(roleKey).(string)
	if !ok {
		return model.Holder{}, false
	}

	holderType, ok := model.ParseHolderType(role)
	if !ok {
		return model.Holder{}, false
	}

	return model.Holder{ID: subject, Type: holderType}, true
}

// AdminFromContext extracts the admin subject set by RequireAdmin.
func AdminFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey).(string)
	if !ok || role != RoleAdmin {
		return "", false
	}
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
