package httpserver

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/logging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	localRequestID = "request_id"
	localUserID    = "user_id"
)

func (s *Server) recoverer() fiber.Handler {
	return recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			s.logger.Error(c.UserContext(), "panic recovered",
				"panic", fmt.Sprint(e),
				"stack", string(debug.Stack()))
		},
	})
}

// requestID keeps a caller-supplied X-Request-ID or mints a ULID, and puts
// it on the request context so every log line of the request carries it.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(common.RequestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Set(common.RequestIDHeader, id)
		c.Locals(localRequestID, id)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// accessLog logs one line per request and feeds the HTTP metrics.
func (s *Server) accessLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		elapsed := time.Since(start)

		s.metrics.requests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		s.metrics.duration.WithLabelValues(c.Method(), route).Observe(elapsed.Seconds())

		s.logger.Info(c.UserContext(), "http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", elapsed.String(),
			"ip", c.IP())
		return nil
	}
}

// loginRateLimit caps login attempts per username (or client IP when the
// body has none) within a one-minute window. Without Redis it does nothing
// and on Redis errors it lets the request through.
func loginRateLimit(cache *redis.Client, maxPerMin int, logger logging.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Username string `json:"username"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Username))
		if subject == "" {
			subject = c.IP()
		}

		ctx := c.UserContext()
		key := "rl:login:" + subject
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn(ctx, "login rate limit unavailable", "error", err.Error())
			return c.Next()
		}
		if cnt == 1 {
			if err := cache.Expire(ctx, key, time.Minute).Err(); err != nil {
				// a counter without a ttl would lock the subject out for good
				logger.Warn(ctx, "login rate limit window not set", "error", err.Error())
				cache.Del(ctx, key)
				return c.Next()
			}
		}
		if cnt > int64(maxPerMin) {
			logger.Warn(ctx, "login rate limited", "subject", subject)
			return fiber.NewError(fiber.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}

// requireAccess admits requests carrying a valid access-token cookie and
// stores the user id in Locals.
func (s *Server) requireAccess() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(common.AccessTokenCookie)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Access token missing")
		}
		userID, err := s.users.VerifyAccessToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusForbidden, "Invalid access token")
		}
		c.Locals(localUserID, userID)
		return c.Next()
	}
}
