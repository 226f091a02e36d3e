package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// PublicRoutes is the gateway allow-list. Everything else needs a bearer token.
var PublicRoutes = []string{
	"POST /auth/register",
	"POST /auth/login",
	"POST /auth/refresh",
	"GET /ping",
	"GET /",
	"GET /openapi.json",
}

type RouterConfig struct {
	Auth           *AuthHandler
	Tokens         AccessTokenParser
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(cfg.Logger))
	router.Use(CORSMiddleware(cfg.AllowedOrigins, true))
	router.Use(NewGateway(cfg.Tokens, PublicRoutes, cfg.Logger).Middleware())

	router.GET("/ping", Ping)
	router.GET("/", Root)
	router.GET("/openapi.json", OpenAPIDoc)

	auth := router.Group("/auth")
	auth.POST("/register", cfg.Auth.Register)
	auth.POST("/login", cfg.Auth.Login)
	auth.POST("/refresh", cfg.Auth.Refresh)
	auth.POST("/logout", cfg.Auth.Logout)
	auth.GET("/me", cfg.Auth.Me)

	return router
}
