package httpserver

import (
	"errors"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/server/services"
	"github.com/dmitrijs2005/passkeeper/internal/validation"
	"github.com/gofiber/fiber/v2"
)

type messageResponse struct {
	Message string `json:"message"`
}

type signupRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	MasterPassword string `json:"master"`
}

type loginInitRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginCompleteRequest struct {
	MasterPassword string `json:"masterPassword"`
}

type updateAccountRequest struct {
	Password string `json:"password"`
	NewValue string `json:"newValue"`
}

type removeAccountRequest struct {
	Password       string `json:"password"`
	MasterPassword string `json:"masterPassword"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

var errMalformedBody = common.NewValidationError("Malformed request body")

func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return errMalformedBody
	}
	return nil
}

func (s *Server) signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	_, err := s.users.Signup(c.UserContext(), validation.Signup{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		MasterPassword: req.MasterPassword,
	})
	s.metrics.authEvent("signup", err)
	if err != nil {
		return err
	}
	return c.JSON(messageResponse{Message: "User registered successfully"})
}

func (s *Server) loginInit(c *fiber.Ctx) error {
	var req loginInitRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	tmp, err := s.users.LoginUsernamePassword(c.UserContext(), req.Username, req.Password)
	s.metrics.authEvent("login_init", err)
	if err != nil {
		return err
	}

	s.setTokenCookie(c, common.TemporaryAccessTokenCookie, tmp.Token, tmp.Expires)
	return c.JSON(messageResponse{Message: "Username and password verified. Proceed with master password."})
}

func (s *Server) loginComplete(c *fiber.Ctx) error {
	var req loginCompleteRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	tmp := c.Cookies(common.TemporaryAccessTokenCookie)
	if tmp == "" {
		s.metrics.authEvent("login_complete", common.ErrorUnauthorized)
		return fiber.NewError(fiber.StatusUnauthorized, "Temporary access token missing")
	}

	ctx := c.UserContext()
	pair, err := s.users.LoginMaster(ctx, tmp, req.MasterPassword)
	s.metrics.authEvent("login_complete", err)
	if err != nil {
		return err
	}

	profile, err := s.users.CurrentUser(ctx, pair.UserID)
	if err != nil {
		return err
	}

	s.setTokenCookie(c, common.RefreshTokenCookie, pair.RefreshToken.Token, pair.RefreshToken.Expires)
	s.setTokenCookie(c, common.AccessTokenCookie, pair.AccessToken.Token, pair.AccessToken.Expires)
	s.clearCookie(c, common.TemporaryAccessTokenCookie)
	if err := s.writeSession(c, sessionState{IsAuthenticated: true, User: profile}); err != nil {
		return err
	}
	return c.JSON(messageResponse{Message: "Master password verified. Login successful."})
}

func (s *Server) logout(c *fiber.Ctx) error {
	err := s.users.Logout(c.UserContext(), c.Cookies(common.AccessTokenCookie))
	s.metrics.authEvent("logout", err)
	if err != nil {
		return err
	}

	s.clearCookie(c, common.AccessTokenCookie)
	s.clearCookie(c, common.RefreshTokenCookie)
	s.clearCookie(c, common.SessionCookie)
	return c.JSON(messageResponse{Message: "Logged out successfully"})
}

func (s *Server) session(c *fiber.Ctx) error {
	st := s.readSession(c)
	if !st.IsAuthenticated {
		return c.JSON(sessionState{})
	}
	return c.JSON(st)
}

// token is the silent refresh. A new access token also goes out as a cookie.
func (s *Server) token(c *fiber.Ctx) error {
	tok, fresh, err := s.users.AuthenticateAndGenerateAccessToken(c.UserContext(),
		c.Cookies(common.AccessTokenCookie),
		c.Cookies(common.RefreshTokenCookie))
	s.metrics.authEvent("refresh", err)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			return fiber.NewError(fiber.StatusUnauthorized, "Failed to authenticate and generate token")
		}
		return err
	}

	if fresh {
		s.setTokenCookie(c, common.AccessTokenCookie, tok.Token, tok.Expires)
	}
	return c.JSON(tokenResponse{AccessToken: tok.Token})
}

func (s *Server) updateAccount(c *fiber.Ctx) error {
	field, err := services.ParseProfileField(c.Params("field"))
	if err != nil {
		return err
	}
	var req updateAccountRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	profile, err := s.users.UpdateProfile(c.UserContext(), c.Cookies(common.AccessTokenCookie), field, req.Password, req.NewValue)
	s.metrics.authEvent("update_"+string(field), err)
	if err != nil {
		return err
	}

	if st := s.readSession(c); st.IsAuthenticated {
		st.User = profile
		if err := s.writeSession(c, st); err != nil {
			return err
		}
	}
	return c.JSON(profile)
}

func (s *Server) removeAccount(c *fiber.Ctx) error {
	var req removeAccountRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	err := s.users.RemoveAccount(c.UserContext(), c.Cookies(common.AccessTokenCookie), req.Password, req.MasterPassword)
	s.metrics.authEvent("remove_account", err)
	if err != nil {
		return err
	}

	s.clearCookie(c, common.AccessTokenCookie)
	s.clearCookie(c, common.RefreshTokenCookie)
	s.clearCookie(c, common.SessionCookie)
	return c.JSON(messageResponse{Message: "Account removed"})
}
