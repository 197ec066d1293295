package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domainuser "huddle/internal/domain/user"
)

const principalContextKey = "huddle.principal"

type principal struct {
	ID    string
	Email string
	Name  string
}

// AuthMiddleware resolves the caller through the identity collaborator. An
// unauthenticated request passes through without a principal; handlers
// decide whether one is required.
type AuthMiddleware struct {
	Resolver domainuser.Resolver
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := requestToken(c)
	if token == "" || m.Resolver == nil {
		c.Next()
		return
	}
	usr, err := m.Resolver.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, domainuser.ErrTokenInvalid) && m.Logger != nil {
			m.Logger.Debug("token resolution failed", "error", err)
		}
		c.Next()
		return
	}
	c.Set(principalContextKey, principal{ID: usr.ID, Email: usr.Email, Name: usr.Name})
	c.Next()
}

// requestToken extracts the bearer token from the Authorization header or,
// failing that, the session cookie.
func requestToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if cookie, err := c.Cookie("session"); err == nil {
		return cookie
	}
	return ""
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}
