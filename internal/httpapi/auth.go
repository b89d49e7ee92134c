package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeySession = "session_claims"
	bearerPrefix      = "Bearer "
	roleAdmin         = "admin"
)

// sessionClaims is the subset of the identity provider's session token the
// API relies on.
type sessionClaims struct {
	jwt.RegisteredClaims
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

func (claims *sessionClaims) hasRole(role string) bool {
	for _, candidate := range claims.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// sessionMiddleware validates the HS256 session token minted by the identity
// provider, from either the session cookie or an Authorization bearer header.
func sessionMiddleware(signingKey []byte, issuer string, cookieName string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	return func(ctx *gin.Context) {
		raw := tokenFromRequest(ctx, cookieName)
		if raw == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, failure(errorKindUnauthorized, "missing session"))
			return
		}
		claims := &sessionClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			return signingKey, nil
		})
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, failure(errorKindUnauthorized, "invalid session"))
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, failure(errorKindUnauthorized, "session missing subject"))
			return
		}
		ctx.Set(contextKeySession, claims)
		ctx.Next()
	}
}

func tokenFromRequest(ctx *gin.Context, cookieName string) string {
	if cookie, err := ctx.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	return ""
}

func getClaims(ctx *gin.Context) *sessionClaims {
	value, ok := ctx.Get(contextKeySession)
	if !ok {
		return nil
	}
	claims, _ := value.(*sessionClaims)
	return claims
}

func requireAdmin(ctx *gin.Context) (*sessionClaims, error) {
	claims := getClaims(ctx)
	if claims == nil {
		return nil, fmt.Errorf("missing session")
	}
	if !claims.hasRole(roleAdmin) {
		return nil, fmt.Errorf("admin role required")
	}
	return claims, nil
}
