// Package httpapi exposes the authentication engine over HTTP. Routes are
// grouped under /api/v1; security administration lives under /admin and
// requires an admin identity.
package httpapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slotwise/bookauth"
	"github.com/slotwise/bookauth/metrics"
)

// ServerConfig tunes the HTTP surface. Zero values fall back to sensible
// defaults via DefaultServerConfig.
type ServerConfig struct {
	// RequestsPerSecond is the per-client-IP throttle. Zero disables
	// throttling (useful in tests).
	RequestsPerSecond float64
	// Burst is the throttle burst allowance per IP.
	Burst int
	// TrustedProxies is handed to gin so ClientIP honors X-Forwarded-For
	// only from known hops. Empty means trust none.
	TrustedProxies []string
}

// DefaultServerConfig returns the production defaults: 20 req/s per IP with
// a burst of 40.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// Server wires the engine into a gin router.
type Server struct {
	engine *bookauth.Engine
	config ServerConfig
	logger *log.Logger
}

// NewServer builds a Server around an engine. Logger may be nil.
func NewServer(engine *bookauth.Engine, cfg ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{engine: engine, config: cfg, logger: logger}
}

// Router assembles the full route tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(s.config.TrustedProxies); err != nil {
		s.logger.Printf("httpapi: trusted proxies: %v", err)
	}

	r.Use(s.requestLogger(), s.instrument(), s.clientContext())
	if s.config.RequestsPerSecond > 0 {
		r.Use(s.throttleByIP())
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.POST("/register", s.handleRegister)
	auth.POST("/login", s.handleLogin)
	auth.POST("/refresh", s.handleRefresh)
	auth.POST("/logout", s.handleLogout)
	auth.POST("/forgot-password", s.handleForgotPassword)
	auth.POST("/reset-password", s.handleResetPassword)
	auth.POST("/verify-email", s.handleVerifyEmail)
	auth.POST("/resend-verification", s.handleResendVerification)

	authed := auth.Group("")
	authed.Use(s.authRequired())
	authed.GET("/validate", s.handleValidate)
	authed.GET("/me", s.handleMe)
	authed.GET("/sessions", s.handleSessions)
	authed.POST("/logout-all", s.handleLogoutAll)
	authed.POST("/logout-others", s.handleLogoutOthers)
	authed.POST("/change-password", s.handleChangePassword)

	admin := v1.Group("/admin/security")
	admin.Use(s.authRequired(), s.adminOnly())
	admin.GET("/metrics", s.handleSecuritySummary)
	admin.GET("/suspicious", s.handleSuspicious)
	admin.POST("/suspicious/:id/resolve", s.handleResolveSuspicious)
	admin.GET("/accounts/:id/audit", s.handleAccountTrail)
	admin.POST("/accounts/:id/unlock", s.handleUnlockAccount)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
