package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotwise/bookauth/audit"
)

func eventBody(ev audit.Event) gin.H {
	body := gin.H{
		"id":        ev.ID,
		"type":      ev.Type,
		"severity":  string(ev.Severity),
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339),
		"resolved":  ev.Resolved,
	}
	if ev.Email != "" {
		body["email"] = ev.Email
	}
	if ev.AccountID != "" {
		body["account_id"] = ev.AccountID
	}
	if ev.IP != "" {
		body["ip"] = ev.IP
	}
	if ev.UserAgent != "" {
		body["user_agent"] = ev.UserAgent
	}
	if len(ev.Detail) > 0 {
		body["detail"] = ev.Detail
	}
	return body
}

func (s *Server) handleSecuritySummary(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration like 1h or 30m"})
			return
		}
		window = parsed
	}

	summary, err := s.engine.SecuritySummary(c.Request.Context(), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": window.String(), "counts": summary})
}

func (s *Server) handleSuspicious(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	events, err := s.engine.RecentSuspicious(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, eventBody(ev))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleResolveSuspicious(c *gin.Context) {
	if err := s.engine.ResolveSuspicious(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "resolved"})
}

func (s *Server) handleAccountTrail(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	events, err := s.engine.AccountTrail(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, eventBody(ev))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleUnlockAccount(c *gin.Context) {
	if err := s.engine.UnlockAccount(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account unlocked"})
}
