package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/authflow/backend/internal/model"
	"github.com/authflow/backend/internal/token"
	"github.com/gin-gonic/gin"
)

const authUserKey = "auth_user"

type ctxKey int

const ctxAuthUser ctxKey = iota

// AccessTokenParser resolves the identity behind an access token.
type AccessTokenParser interface {
	ParseAccessToken(tokenStr string) (*model.AuthUser, error)
}

// Gateway rejects every request that lacks a valid access token unless its
// route is on the public allow-list. It never consults the session store.
type Gateway struct {
	parser AccessTokenParser
	public map[string]struct{}
	logger *slog.Logger
}

// NewGateway builds a gateway. publicRoutes entries look like "POST /auth/login"
// and are matched against the registered route pattern.
func NewGateway(parser AccessTokenParser, publicRoutes []string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	public := make(map[string]struct{}, len(publicRoutes))
	for _, route := range publicRoutes {
		method, path, ok := strings.Cut(strings.TrimSpace(route), " ")
		if !ok {
			continue
		}
		public[routeKey(method, strings.TrimSpace(path))] = struct{}{}
	}
	return &Gateway{parser: parser, public: public, logger: logger}
}

func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if g.IsPublic(c.Request.Method, c.FullPath()) {
			c.Next()
			return
		}

		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			g.deny(c, "missing-token")
			return
		}

		user, err := g.parser.ParseAccessToken(tokenStr)
		if err != nil {
			reason := string(token.ReasonOf(err))
			if reason == "" {
				reason = "invalid"
			}
			g.deny(c, reason)
			return
		}

		c.Set(authUserKey, user)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxAuthUser, user))
		c.Next()
	}
}

// IsPublic reports whether a route pattern is on the allow-list. Unmatched
// routes have an empty pattern and are never public.
func (g *Gateway) IsPublic(method, fullPath string) bool {
	if fullPath == "" {
		return false
	}
	_, ok := g.public[routeKey(method, fullPath)]
	return ok
}

func (g *Gateway) deny(c *gin.Context, reason string) {
	g.logger.DebugContext(c.Request.Context(), "request rejected",
		slog.String("reason", reason),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("ip", c.ClientIP()),
	)
	abortWithError(c, http.StatusUnauthorized, "unauthorized")
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return tokenStr, tokenStr != ""
}

// GetAuthUser returns the user the gateway attached, or nil on public routes.
func GetAuthUser(c *gin.Context) *model.AuthUser {
	if value, ok := c.Get(authUserKey); ok {
		if user, ok := value.(*model.AuthUser); ok {
			return user
		}
	}
	return nil
}

// AuthUserFromContext returns the authenticated user from a request context.
func AuthUserFromContext(ctx context.Context) (*model.AuthUser, bool) {
	user, ok := ctx.Value(ctxAuthUser).(*model.AuthUser)
	return user, ok && user != nil
}

func CORSMiddleware(allowedOrigins []string, allowCredentials bool) gin.HandlerFunc {
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		originMap[trimmed] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := originMap[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				if allowCredentials {
					c.Header("Access-Control-Allow-Credentials", "true")
				}
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestLogger replaces gin's default text logger with a structured one.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		)
	}
}
