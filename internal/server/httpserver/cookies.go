package httpserver

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/gofiber/fiber/v2"
)

// sessionState is kept in the encrypted session cookie and reported by
// GET /session.
type sessionState struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            *models.Profile `json:"user,omitempty"`
}

func (s *Server) setTokenCookie(c *fiber.Ctx, name, value string, expires time.Time) {
	var maxAge int
	if !expires.IsZero() {
		if maxAge = int(time.Until(expires).Seconds()); maxAge <= 0 {
			maxAge = -1
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HTTPOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (s *Server) clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (s *Server) readSession(c *fiber.Ctx) sessionState {
	var st sessionState
	raw := c.Cookies(common.SessionCookie)
	if raw == "" {
		return st
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return sessionState{}
	}
	return st
}

func (s *Server) writeSession(c *fiber.Ctx, st sessionState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     common.SessionCookie,
		Value:    string(b),
		Path:     "/",
		HTTPOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return nil
}
