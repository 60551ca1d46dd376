package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/slotwise/bookauth"
	"github.com/slotwise/bookauth/metrics"
)

const identityKey = "bookauth.identity"

// clientContext copies gin's view of the caller (resolved client IP and
// User-Agent) into the request context so the engine can bind tokens to it.
func (s *Server) clientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := bookauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = bookauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Printf("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.RequestStarted()
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestFinished(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// throttleByIP keeps one token bucket per client IP. Buckets idle past the
// sweep horizon are discarded so the map does not grow without bound.
func (s *Server) throttleByIP() gin.HandlerFunc {
	type bucket struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
	)
	lastSweep := time.Now()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst)}
			buckets[ip] = b
		}
		b.lastSeen = time.Now()
		if time.Since(lastSweep) > 10*time.Minute {
			for key, stale := range buckets {
				if time.Since(stale.lastSeen) > 10*time.Minute {
					delete(buckets, key)
				}
			}
			lastSweep = time.Now()
		}
		allowed := b.limiter.Allow()
		mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// authRequired validates the bearer token and stores the resolved identity
// on the gin context. Context-mismatch failures get a reauthentication
// challenge so clients know a fresh login is required, not just a refresh.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}

		identity, err := s.engine.Validate(c.Request.Context(), token)
		if err != nil {
			var hijack *bookauth.HijackError
			if errors.As(err, &hijack) {
				metrics.HijackSignalsTotal.Inc()
			}
			status, body := errorResponse(err)
			if status == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", `Bearer realm="bookauth"`)
			}
			c.AbortWithStatusJSON(status, body)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFrom(c)
		if !ok || identity.Role != bookauth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) (*bookauth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*bookauth.Identity)
	return identity, ok
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
