package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotwise/bookauth"
	"github.com/slotwise/bookauth/metrics"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	FullName string `json:"fullName" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func tokenPairBody(pair bookauth.TokenPair) gin.H {
	return gin.H{
		"access_token":       pair.AccessToken,
		"access_expires_at":  pair.AccessExpiresAt.UTC().Format(time.RFC3339),
		"refresh_token":      pair.RefreshToken,
		"refresh_expires_at": pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}

func accountBody(account *bookauth.Account) gin.H {
	return gin.H{
		"id":             account.ID,
		"email":          account.Email,
		"full_name":      account.FullName,
		"role":           account.Role,
		"email_verified": account.EmailVerified,
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Register(c.Request.Context(), req.Email, req.FullName, req.Password, req.Role)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("failure").Inc()
		writeError(c, err)
		return
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusCreated, gin.H{
		"account": accountBody(result.Account),
		"tokens":  tokenPairBody(result.Tokens),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, bookauth.ErrAccountLocked) {
			metrics.LockoutsTotal.Inc()
		}
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		writeError(c, err)
		return
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{
		"account": accountBody(result.Account),
		"tokens":  tokenPairBody(result.Tokens),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, err := s.engine.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("failure").Inc()
		writeError(c, err)
		return
	}

	metrics.RefreshesTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{"tokens": tokenPairBody(*pair)})
}

func (s *Server) handleLogout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleLogoutAll(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	revoked, err := s.engine.LogoutAll(c.Request.Context(), identity.AccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked_sessions": revoked})
}

func (s *Server) handleLogoutOthers(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	revoked, err := s.engine.LogoutOthers(c.Request.Context(), identity.AccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked_sessions": revoked})
}

func (s *Server) handleSessions(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	sessions, err := s.engine.Sessions(c.Request.Context(), identity.AccountID)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, gin.H{
			"id":         sess.ID,
			"ip":         sess.IP,
			"user_agent": sess.UserAgent,
			"created_at": sess.CreatedAt.UTC().Format(time.RFC3339),
			"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleValidate(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"user": gin.H{
			"account_id":     identity.AccountID,
			"email":          identity.Email,
			"role":           identity.Role,
			"email_verified": identity.EmailVerified,
		},
	})
}

func (s *Server) handleMe(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	account, err := s.engine.Account(c.Request.Context(), identity.AccountID)
	if err != nil {
		writeError(c, err)
		return
	}

	body := accountBody(account)
	body["created_at"] = account.CreatedAt.UTC().Format(time.RFC3339)
	if account.LastLoginAt != nil {
		body["last_login_at"] = account.LastLoginAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleChangePassword(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.ChangePassword(c.Request.Context(), identity.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed, other sessions revoked"})
}

// handleForgotPassword always answers with the same body: revealing whether
// an email exists would hand enumeration to an attacker. Rate-limit errors
// are the one exception, they tell the legitimate owner to slow down.
func (s *Server) handleForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.engine.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil && errors.Is(err, bookauth.ErrResetRateLimited) {
		writeError(c, err)
		return
	}
	if err != nil && !errors.Is(err, bookauth.ErrAccountNotFound) {
		s.logger.Printf("httpapi: forgot-password: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the email is registered, a reset link has been sent"})
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.ConfirmPasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset, sign in with your new password"})
}

func (s *Server) handleVerifyEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

// handleResendVerification mirrors forgot-password: the response never
// confirms whether the email exists.
func (s *Server) handleResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.ResendVerification(c.Request.Context(), req.Email); err != nil && !errors.Is(err, bookauth.ErrAccountNotFound) {
		s.logger.Printf("httpapi: resend-verification: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the email is registered, a verification link has been sent"})
}
