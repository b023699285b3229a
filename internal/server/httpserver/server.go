// Package httpserver exposes UserService over HTTP with cookie-carried tokens.
package httpserver

import (
	"context"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/logging"
	"github.com/dmitrijs2005/passkeeper/internal/server/config"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/dmitrijs2005/passkeeper/internal/server/services"
	"github.com/dmitrijs2005/passkeeper/internal/validation"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/encryptcookie"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// UserService is the slice of services.UserService the handlers call.
type UserService interface {
	Signup(ctx context.Context, req validation.Signup) (*models.Profile, error)
	LoginUsernamePassword(ctx context.Context, username, password string) (*services.IssuedToken, error)
	LoginMaster(ctx context.Context, temporaryToken, masterPassword string) (*services.TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	AuthenticateAndGenerateAccessToken(ctx context.Context, accessToken, refreshToken string) (*services.IssuedToken, bool, error)
	VerifyAccessToken(accessToken string) (string, error)
	CurrentUser(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, accessToken string, field services.ProfileField, currentPassword, newValue string) (*models.Profile, error)
	RemoveAccount(ctx context.Context, accessToken, password, masterPassword string) error
}

type Server struct {
	app     *fiber.App
	cfg     *config.Config
	users   UserService
	cache   *redis.Client
	logger  logging.Logger
	metrics *Metrics
}

// New builds the fiber application and registers every route. cache may be
// nil, in which case login attempts are not rate limited.
func New(cfg *config.Config, users UserService, cache *redis.Client, logger logging.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		users:   users,
		cache:   cache,
		logger:  logger,
		metrics: NewMetrics(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "passkeeper",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(requestID())
	s.app.Use(s.accessLog())
	s.app.Use(s.recoverer())
	s.app.Use(encryptcookie.New(encryptcookie.Config{
		Key: s.cfg.SessionKey,
		Except: []string{
			common.TemporaryAccessTokenCookie,
			common.AccessTokenCookie,
			common.RefreshTokenCookie,
		},
	}))

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	s.app.Post("/signup", s.signup)

	login := s.app.Group("/login", loginRateLimit(s.cache, s.cfg.LoginAttemptsPerMinute, s.logger))
	login.Post("/init", s.loginInit)
	login.Post("/complete", s.loginComplete)

	s.app.Get("/logout", s.requireAccess(), s.logout)
	s.app.Get("/session", s.session)
	s.app.Post("/token", s.token)

	account := s.app.Group("/account", s.requireAccess())
	account.Put("/:field", s.updateAccount)
	account.Delete("/", s.removeAccount)
}

// App exposes the fiber application, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	s.logger.Info(context.Background(), "http server listening", "addr", s.cfg.HTTPAddr)
	return s.app.Listen(s.cfg.HTTPAddr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
