/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

const authCtxKey = "authCtx"

type sessionClaims struct {
	Role      string   `json:"role"`
	Email     string   `json:"email"`
	AccountID string   `json:"account_id"`
	BoardIDs  []string `json:"board_ids"`
	jwt.RegisteredClaims
}

// Auth parses the portal session bearer token into the AuthContext the
// core consumes. Everything behind /api requires a valid session.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}
		claims := &sessionClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok { return nil, jwt.ErrSignatureInvalid }
			return key, nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		c.Set(authCtxKey, domain.AuthContext{
			UserID:    claims.Subject,
			Role:      domain.Role(claims.Role),
			Email:     claims.Email,
			AccountID: claims.AccountID,
			BoardIDs:  claims.BoardIDs,
		})
		c.Next()
	}
}

func authFrom(c *gin.Context) domain.AuthContext {
	v, ok := c.Get(authCtxKey)
	if !ok { return domain.AuthContext{} }
	return v.(domain.AuthContext)
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authFrom(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
