// Package services contains server-side business logic. This file implements
// UserService: signup, the two-phase login (password, then master password),
// logout, silent access-token refresh, profile updates and account removal.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/dbx"
	"github.com/dmitrijs2005/passkeeper/internal/logging"
	"github.com/dmitrijs2005/passkeeper/internal/server/auth"
	"github.com/dmitrijs2005/passkeeper/internal/server/config"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/dmitrijs2005/passkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/passkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/passkeeper/internal/timex"
	"github.com/dmitrijs2005/passkeeper/internal/validation"
)

// IssuedToken is a signed token together with its expiry, which the HTTP
// layer copies onto the cookie.
type IssuedToken struct {
	Token   string
	Expires time.Time
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  IssuedToken
	RefreshToken IssuedToken
	UserID       string
}

// ProfileField names the account attribute UpdateProfile changes.
type ProfileField string

const (
	FieldUsername ProfileField = "username"
	FieldPassword ProfileField = "password"
	FieldMaster   ProfileField = "master"
)

// ErrInvalidUpdateType is returned for an unknown ProfileField.
var ErrInvalidUpdateType = common.NewValidationError("Invalid update type")

// UserService orchestrates identity operations. Every multi-step operation
// runs in one transaction from the pool, and the connection is released
// on every exit path.
type UserService struct {
	txm            *dbx.TxManager
	repomanager    repomanager.RepositoryManager
	hasher         *passwords.Hasher
	issuer         *auth.Issuer
	refresh        *auth.RefreshIssuer
	accessTTL      time.Duration
	temporaryTTL   time.Duration
	alwaysReverify bool
	now            timex.Clock
	logger         logging.Logger
}

// Option customizes a UserService.
type Option func(*UserService)

// WithClock replaces the time source used for token issuance and expiry.
func WithClock(now timex.Clock) Option {
	return func(s *UserService) { s.now = now }
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger, opts ...Option) (*UserService, error) {
	hasher, err := passwords.NewHasher(cfg.PasswordCost, cfg.MasterPasswordCost)
	if err != nil {
		return nil, err
	}

	s := &UserService{
		txm:            dbx.NewTxManager(db, cfg.DBAcquireTimeout),
		repomanager:    m,
		hasher:         hasher,
		accessTTL:      cfg.AccessTokenValidityDuration,
		temporaryTTL:   cfg.TemporaryTokenValidityDuration,
		alwaysReverify: cfg.AlwaysReverifyAccessToken,
		now:            timex.UTCNow,
		logger:         logger.With("module", "user_service"),
	}
	for _, o := range opts {
		o(s)
	}
	s.issuer = auth.NewIssuer([]byte(cfg.SecretKey), s.now)
	s.refresh = auth.NewRefreshIssuer(cfg.RefreshTokenValidityDuration, s.now)

	return s, nil
}

// Signup validates the request, checks username and email uniqueness and
// stores the user with its master credential, all in one transaction.
// Every violated rule is reported in a single *common.ValidationError.
func (s *UserService) Signup(ctx context.Context, req validation.Signup) (*models.Profile, error) {
	problems := req.Problems()

	var passwordHash, masterHash string
	if len(problems) == 0 {
		var err error
		if passwordHash, err = s.hasher.Hash(passwords.Login, req.Password); err != nil {
			return nil, s.fail(ctx, "signup", err)
		}
		if masterHash, err = s.hasher.Hash(passwords.Master, req.MasterPassword); err != nil {
			return nil, s.fail(ctx, "signup", err)
		}
	}

	var profile *models.Profile
	err := s.txm.WithTx(ctx, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		all := append([]string(nil), problems...)

		taken, err := exists(users.GetByUsername(ctx, req.Username))
		if err != nil {
			return err
		}
		if taken {
			all = append(all, validation.MsgUsernameTaken)
		}

		taken, err = exists(users.GetByEmail(ctx, req.Email))
		if err != nil {
			return err
		}
		if taken {
			all = append(all, validation.MsgEmailTaken)
		}

		if len(all) > 0 {
			return common.NewValidationError(all...)
		}

		u, err := users.Create(ctx, &models.User{
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: passwordHash,
			CreatedAt:    s.now(),
		})
		if err != nil {
			if errors.Is(err, common.ErrConflict) {
				return common.NewValidationError(validation.MsgAccountTaken)
			}
			return err
		}

		if err := s.repomanager.MasterPasswords(tx).Create(ctx, u.ID, masterHash); err != nil {
			return err
		}

		profile = u.Profile()
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "signup", err)
	}

	s.logger.Info(ctx, "user signed up", "user_id", profile.UserID, "username", profile.Username)
	return profile, nil
}

// LoginUsernamePassword is login phase one. It returns common.ErrorNotFound
// for an unknown username and common.ErrorUnauthorized for a wrong
// password; on success it issues the temporary token for phase two.
func (s *UserService) LoginUsernamePassword(ctx context.Context, username, password string) (*IssuedToken, error) {
	user, err := s.repomanager.Users(s.txm.DB()).GetByUsername(ctx, username)
	if err != nil {
		return nil, s.fail(ctx, "login", err)
	}

	if err := s.checkSecret(password, user.PasswordHash); err != nil {
		return nil, s.fail(ctx, "login", err, "user_id", user.ID)
	}

	tok, err := s.issue(user.ID, auth.PurposeTemporary, s.temporaryTTL)
	if err != nil {
		return nil, s.fail(ctx, "login", err)
	}

	s.logger.Info(ctx, "password verified", "user_id", user.ID)
	return tok, nil
}

// LoginMaster is login phase two. A bad or expired temporary token, a
// missing master credential and a wrong master password all yield
// common.ErrorUnauthorized. When the user already holds a live refresh
// token it is reused and only a new access token is minted.
func (s *UserService) LoginMaster(ctx context.Context, temporaryToken, masterPassword string) (*TokenPair, error) {
	claims, err := s.issuer.Verify(temporaryToken, auth.PurposeTemporary)
	if err != nil {
		return nil, s.fail(ctx, "login master", common.ErrorUnauthorized)
	}
	userID := claims.UserID

	master, err := s.repomanager.MasterPasswords(s.txm.DB()).GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			err = common.ErrorUnauthorized
		}
		return nil, s.fail(ctx, "login master", err, "user_id", userID)
	}
	if err := s.checkSecret(masterPassword, master.MasterPasswordHash); err != nil {
		return nil, s.fail(ctx, "login master", err, "user_id", userID)
	}

	var pair *TokenPair
	err = s.txm.WithTx(ctx, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, userID, tx)
		return genErr
	})
	if err != nil {
		return nil, s.fail(ctx, "login master", err, "user_id", userID)
	}

	s.logger.Info(ctx, "user logged in", "user_id", userID)
	return pair, nil
}

// Logout verifies the access token and deletes every refresh token of its
// user. Having nothing to delete is not an error.
func (s *UserService) Logout(ctx context.Context, accessToken string) error {
	userID, err := s.VerifyAccessToken(accessToken)
	if err != nil {
		return s.fail(ctx, "logout", err)
	}

	var removed int64
	err = s.txm.WithTx(ctx, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var delErr error
		removed, delErr = s.repomanager.Tokens(tx).DeleteByUser(ctx, userID)
		return delErr
	})
	if err != nil {
		return s.fail(ctx, "logout", err, "user_id", userID)
	}

	s.logger.Info(ctx, "user logged out", "user_id", userID, "tokens_removed", removed)
	return nil
}

// AuthenticateAndGenerateAccessToken is the silent refresh. A supplied
// access token is returned unchanged (fresh=false) without verification
// unless AlwaysReverifyAccessToken is set, in which case an invalid one
// falls through to the refresh token. A missing, unknown or expired
// refresh token yields common.ErrorUnauthorized.
func (s *UserService) AuthenticateAndGenerateAccessToken(ctx context.Context, accessToken, refreshToken string) (tok *IssuedToken, fresh bool, err error) {
	if accessToken != "" {
		if !s.alwaysReverify {
			return &IssuedToken{Token: accessToken}, false, nil
		}
		if claims, err := s.issuer.Verify(accessToken, auth.PurposeAccess); err == nil {
			return &IssuedToken{Token: accessToken, Expires: claims.ExpiresAt.Time}, false, nil
		}
	}

	userID, err := s.refresh.Verify(ctx, s.repomanager.Tokens(s.txm.DB()), refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			err = common.ErrorUnauthorized
		}
		return nil, false, s.fail(ctx, "refresh access token", err)
	}

	tok, err = s.issue(userID, auth.PurposeAccess, s.accessTTL)
	if err != nil {
		return nil, false, s.fail(ctx, "refresh access token", err)
	}

	s.logger.Debug(ctx, "access token refreshed", "user_id", userID)
	return tok, true, nil
}

// VerifyAccessToken returns the user bound to a full access token or
// common.ErrorUnauthorized. Temporary tokens are rejected.
func (s *UserService) VerifyAccessToken(accessToken string) (string, error) {
	claims, err := s.issuer.Verify(accessToken, auth.PurposeAccess)
	if err != nil {
		return "", common.ErrorUnauthorized
	}
	return claims.UserID, nil
}

// CurrentUser returns the profile of userID.
func (s *UserService) CurrentUser(ctx context.Context, userID string) (*models.Profile, error) {
	u, err := s.repomanager.Users(s.txm.DB()).GetByID(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, "current user", err, "user_id", userID)
	}
	return u.Profile(), nil
}

// ParseProfileField maps the route parameter onto a ProfileField.
func ParseProfileField(s string) (ProfileField, error) {
	switch f := ProfileField(s); f {
	case FieldUsername, FieldPassword, FieldMaster:
		return f, nil
	}
	return "", ErrInvalidUpdateType
}

// UpdateProfile changes one field of the caller's account after
// re-checking the current login password. The new value must differ from
// the current one and pass the signup rules for that field.
func (s *UserService) UpdateProfile(ctx context.Context, accessToken string, field ProfileField, currentPassword, newValue string) (*models.Profile, error) {
	if _, err := ParseProfileField(string(field)); err != nil {
		return nil, s.fail(ctx, "update profile", err)
	}
	userID, err := s.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, s.fail(ctx, "update profile", err)
	}

	var profile *models.Profile
	err = s.txm.WithTx(ctx, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		masters := s.repomanager.MasterPasswords(tx)

		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		master, err := masters.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.checkSecret(currentPassword, user.PasswordHash); err != nil {
			return err
		}

		switch field {
		case FieldUsername:
			if err := s.changeUsername(ctx, users, user, newValue); err != nil {
				return err
			}
			user.Username = newValue

		case FieldPassword:
			hash, err := s.replacementHash(passwords.Login, field, newValue, user.PasswordHash, validation.MinPasswordLen, validation.MsgPasswordWeak)
			if err != nil {
				return err
			}
			if err := users.UpdatePasswordHash(ctx, userID, hash); err != nil {
				return err
			}

		case FieldMaster:
			hash, err := s.replacementHash(passwords.Master, field, newValue, master.MasterPasswordHash, validation.MinMasterPasswordLen, validation.MsgMasterWeak)
			if err != nil {
				return err
			}
			if err := masters.UpdateHash(ctx, userID, hash); err != nil {
				return err
			}
		}

		profile = user.Profile()
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "update profile", err, "user_id", userID, "field", string(field))
	}

	s.logger.Info(ctx, "profile updated", "user_id", userID, "field", string(field))
	return profile, nil
}

// RemoveAccount deletes the caller's user row once both the login password
// and the master password check out. Master credential and refresh tokens
// go with it through the schema's cascade.
func (s *UserService) RemoveAccount(ctx context.Context, accessToken, password, masterPassword string) error {
	userID, err := s.VerifyAccessToken(accessToken)
	if err != nil {
		return s.fail(ctx, "remove account", err)
	}

	err = s.txm.WithTx(ctx, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		master, err := s.repomanager.MasterPasswords(tx).GetByUserID(ctx, userID)
		if err != nil {
			return err
		}

		passErr := s.checkSecret(password, user.PasswordHash)
		masterErr := s.checkSecret(masterPassword, master.MasterPasswordHash)
		if passErr != nil || masterErr != nil {
			// one outcome for either factor
			if errors.Is(passErr, common.ErrorUnauthorized) || errors.Is(masterErr, common.ErrorUnauthorized) {
				return common.ErrorUnauthorized
			}
			return errors.Join(passErr, masterErr)
		}

		return users.Delete(ctx, userID)
	})
	if err != nil {
		return s.fail(ctx, "remove account", err, "user_id", userID)
	}

	s.logger.Info(ctx, "account removed", "user_id", userID)
	return nil
}

// --- helpers below ---

func (s *UserService) issue(userID string, purpose auth.Purpose, ttl time.Duration) (*IssuedToken, error) {
	tok, expires, err := s.issuer.Issue(userID, purpose, ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: issue %s token: %v", common.ErrorInternal, purpose, err)
	}
	return &IssuedToken{Token: tok, Expires: expires}, nil
}

// generateTokenPair mints an access token and reuses the user's oldest live
// refresh token, creating one in tx only when none is live.
func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	repo := s.repomanager.Tokens(tx)

	existing, err := repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var refresh *IssuedToken
	now := s.now()
	for _, t := range existing {
		if t.Live(now) {
			refresh = &IssuedToken{Token: t.Token, Expires: t.Expires}
			break
		}
	}
	if refresh == nil {
		tok, expires, err := s.refresh.IssueAndStore(ctx, repo, userID)
		if err != nil {
			return nil, err
		}
		refresh = &IssuedToken{Token: tok, Expires: expires}
	}

	access, err := s.issue(userID, auth.PurposeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: *access, RefreshToken: *refresh, UserID: userID}, nil
}

// checkSecret maps a bcrypt mismatch to common.ErrorUnauthorized.
func (s *UserService) checkSecret(secret, digest string) error {
	ok, err := s.hasher.Verify(secret, digest)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if !ok {
		return common.ErrorUnauthorized
	}
	return nil
}

func (s *UserService) changeUsername(ctx context.Context, users usersrepo.Repository, user *models.User, newValue string) error {
	if newValue == user.Username {
		return sameValueError(FieldUsername)
	}
	if problems := validation.UsernameProblems(newValue); len(problems) > 0 {
		return common.NewValidationError(problems...)
	}

	taken, err := exists(users.GetByUsername(ctx, newValue))
	if err != nil {
		return err
	}
	if taken {
		return common.NewValidationError(validation.MsgUsernameTaken)
	}

	if err := users.UpdateUsername(ctx, user.ID, newValue); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return common.NewValidationError(validation.MsgUsernameTaken)
		}
		return err
	}
	return nil
}

func (s *UserService) replacementHash(class passwords.Class, field ProfileField, newValue, currentHash string, minLen int, weakMsg string) (string, error) {
	same, err := s.hasher.Verify(newValue, currentHash)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if same {
		return "", sameValueError(field)
	}
	if !validation.StrongPassword(newValue, minLen) {
		return "", common.NewValidationError(weakMsg)
	}
	return s.hasher.Hash(class, newValue)
}

func sameValueError(field ProfileField) error {
	return common.NewValidationError(fmt.Sprintf("New %s is the same as the current %s", field, field))
}

// exists turns a lookup result into a presence flag, passing through
// anything other than common.ErrorNotFound.
func exists(_ *models.User, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrorNotFound):
		return false, nil
	default:
		return false, err
	}
}

// fail logs err once at a level matching its kind and returns it.
func (s *UserService) fail(ctx context.Context, op string, err error, args ...any) error {
	args = append([]any{"op", op, "error", err.Error()}, args...)
	switch {
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrorNotFound):
		s.logger.Warn(ctx, "request rejected", args...)
	default:
		s.logger.Error(ctx, "operation failed", args...)
	}
	return err
}
