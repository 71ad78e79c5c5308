package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/observability"
	"smartdine/internal/services/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	actorKey        = "actor"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = logger.GenerateRequestID()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        routePath(c),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if actor, ok := actorOf(c); ok {
			fields["user_id"] = actor.UserID
			fields["role"] = string(actor.Role)
		}
		log.Debug("http_request", "Request completed", requestIDOf(c), fields)
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observability.RecordHTTPRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// authenticate verifies the bearer token and stores the actor on the context
func authenticate(svc *auth.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			abort(c, http.StatusUnauthorized, "authorization header is missing")
			return
		}

		actor, err := svc.Verify(c.Request.Context(), token)
		if errors.Is(err, auth.ErrInvalidToken) {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		if err != nil {
			log.Error("authentication_failed", "Could not load token subject", requestIDOf(c), err, nil)
			abort(c, http.StatusServiceUnavailable, "authentication is temporarily unavailable")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorOf(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// mustActor is only called behind authenticate
func mustActor(c *gin.Context) models.Actor {
	actor, _ := actorOf(c)
	return actor
}

func requestIDOf(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
