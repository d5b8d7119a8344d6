package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aq2208/storefront-api/configs"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey = "user_id"
	claimsKey = "jwt_claims"
)

var errNoBearer = errors.New("missing bearer token")

type Authz struct {
	cfg configs.Config
}

func NewAuthz(cfg configs.Config) *Authz {
	return &Authz{cfg: cfg}
}

// Optional lets anonymous requests through as guests. A token that is
// present but invalid is still rejected.
func (a *Authz) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parse(c)
		if errors.Is(err, errNoBearer) {
			c.Next()
			return
		}
		if err != nil {
			unauth(c, "invalid_token", err.Error())
			return
		}
		bindUser(c, claims)
		c.Next()
	}
}

// Require checks JWT and ensures all required permissions are present
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parse(c)
		if errors.Is(err, errNoBearer) {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}
		if err != nil {
			unauth(c, "invalid_token", err.Error())
			return
		}

		perms := extractPerms(claims)
		if !hasAll(perms, requiredPerms) {
			forbidden(c, "insufficient_scope", "missing required permissions")
			return
		}
		bindUser(c, claims)
		c.Next()
	}
}

func (a *Authz) parse(c *gin.Context) (jwt.MapClaims, error) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, errNoBearer
	}

	raw := strings.TrimPrefix(auth, "Bearer ")
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(a.cfg.Security.JWTSecret), nil
	},
		jwt.WithLeeway(30*time.Second), // small clock skew
		jwt.WithIssuer(a.cfg.Security.Issuer),
		jwt.WithAudience(a.cfg.Security.Audience),
	)
	if err != nil || !token.Valid {
		return nil, errors.New("invalid jwt")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims parsing error")
	}
	return claims, nil
}

// bindUser exposes a numeric sub as the caller's user id. Service tokens
// without a numeric subject stay anonymous.
func bindUser(c *gin.Context, claims jwt.MapClaims) {
	c.Set(claimsKey, claims)
	sub, _ := claims.GetSubject()
	if sub == "" {
		return
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		logging.From(c).Debug("non-numeric subject, treating as anonymous", "sub", sub)
		return
	}
	c.Set(userIDKey, id)
}

// UserID returns the authenticated user id, if any.
func UserID(c *gin.Context) *int64 {
	v, ok := c.Get(userIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(int64)
	if !ok {
		return nil
	}
	return &id
}

func Actor(c *gin.Context) string {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(jwt.MapClaims); ok {
			sub, _ := claims.GetSubject()
			return sub
		}
	}
	return ""
}

func extractPerms(claims jwt.MapClaims) map[string]string {
	out := map[string]string{}
	if arr, ok := claims["perms"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out[s] = ""
			}
		}
	}
	return out
}

func hasAll(have map[string]string, req []string) bool {
	for _, r := range req {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
