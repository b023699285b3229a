package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/dbx"
	"github.com/dmitrijs2005/passkeeper/internal/logging"
	"github.com/dmitrijs2005/passkeeper/internal/server/config"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/passkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/passkeeper/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc   *UserService
	db    *sql.DB
	clock *testClock
	cfg   *config.Config
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.PasswordCost = bcrypt.MinCost
	cfg.MasterPasswordCost = bcrypt.MinCost + 1
	cfg.DBAcquireTimeout = 2 * time.Second
	return cfg
}

// newFixture wires UserService to an in-memory SQLite database limited to a
// single connection, so a leaked connection shows up as an acquire timeout.
func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repomanager.Open(ctx, "sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm, err := repomanager.NewRepositoryManager("sqlite")
	require.NoError(t, err)
	require.NoError(t, rm.RunMigrations(ctx, db))

	return newFixtureWith(t, db, rm, mutate...)
}

func newFixtureWith(t *testing.T, db *sql.DB, rm repomanager.RepositoryManager, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	clock := &testClock{t: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}

	svc, err := NewUserService(db, rm, cfg, logging.Discard(), WithClock(clock.Now))
	require.NoError(t, err)
	return &fixture{svc: svc, db: db, clock: clock, cfg: cfg}
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

var alice = validation.Signup{
	Username:       "alice",
	Email:          "alice@x.com",
	Password:       "Passw0rd!",
	MasterPassword: "MasterPass1!",
}

func (f *fixture) signup(t *testing.T, req validation.Signup) *models.Profile {
	t.Helper()
	p, err := f.svc.Signup(context.Background(), req)
	require.NoError(t, err)
	return p
}

func (f *fixture) login(t *testing.T, req validation.Signup) *TokenPair {
	t.Helper()
	ctx := context.Background()
	tmp, err := f.svc.LoginUsernamePassword(ctx, req.Username, req.Password)
	require.NoError(t, err)
	pair, err := f.svc.LoginMaster(ctx, tmp.Token, req.MasterPassword)
	require.NoError(t, err)
	return pair
}

func problemsOf(t *testing.T, err error) []string {
	t.Helper()
	var ve *common.ValidationError
	require.True(t, errors.As(err, &ve), "expected *common.ValidationError, got %v", err)
	return ve.Problems
}

// --- signup ---

func TestSignup_ThenBothLoginPhases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.signup(t, alice)
	assert.NotEmpty(t, p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "alice@x.com", p.Email)

	tmp, err := f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, 0, f.count(t, "tokens"), "phase one must not touch tokens")

	pair, err := f.svc.LoginMaster(ctx, tmp.Token, "MasterPass1!")
	require.NoError(t, err)
	assert.Equal(t, p.UserID, pair.UserID)
	assert.NotEmpty(t, pair.AccessToken.Token)
	assert.Len(t, pair.RefreshToken.Token, 64)
	assert.Equal(t, f.clock.t.Add(72*time.Hour), pair.RefreshToken.Expires)
	assert.Equal(t, 1, f.count(t, "tokens"))

	uid, err := f.svc.VerifyAccessToken(pair.AccessToken.Token)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, uid)
}

func TestSignup_StoresHashesNotSecrets(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)

	var pw, master string
	require.NoError(t, f.db.QueryRow(`SELECT password_hash FROM users`).Scan(&pw))
	require.NoError(t, f.db.QueryRow(`SELECT master_password_hash FROM masterpassword`).Scan(&master))

	assert.NotEqual(t, alice.Password, pw)
	assert.NotEqual(t, alice.MasterPassword, master)
	lc, _ := bcrypt.Cost([]byte(pw))
	mc, _ := bcrypt.Cost([]byte(master))
	assert.Equal(t, f.cfg.PasswordCost, lc)
	assert.Equal(t, f.cfg.MasterPasswordCost, mc)
}

func TestSignup_DuplicateRollsBackFully(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)

	dupUser := alice
	dupUser.Email = "other@x.com"
	_, err := f.svc.Signup(context.Background(), dupUser)
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "already in use")
	assert.Equal(t, []string{validation.MsgUsernameTaken}, problemsOf(t, err))

	dupEmail := alice
	dupEmail.Username = "bob"
	_, err = f.svc.Signup(context.Background(), dupEmail)
	assert.Equal(t, []string{validation.MsgEmailTaken}, problemsOf(t, err))

	assert.Equal(t, 1, f.count(t, "users"))
	assert.Equal(t, 1, f.count(t, "masterpassword"))
}

func TestSignup_CollectsFormatAndUniquenessProblems(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)

	_, err := f.svc.Signup(context.Background(), validation.Signup{
		Username:       "alice",
		Email:          "not-an-email",
		Password:       "weak",
		MasterPassword: "MasterPass1!",
	})

	assert.Equal(t, []string{
		validation.MsgEmailInvalid,
		validation.MsgPasswordWeak,
		validation.MsgUsernameTaken,
	}, problemsOf(t, err))
	assert.Equal(t,
		"The email address is not valid., The password does not meet complexity requirements., This username is already in use.",
		err.Error())
	assert.Equal(t, 1, f.count(t, "users"))
}

// blindUsers hides existing rows from the uniqueness pre-check so the
// schema constraint is what catches the duplicate.
type blindUsers struct {
	usersrepo.Repository
}

func (b blindUsers) GetByUsername(context.Context, string) (*models.User, error) {
	return nil, common.ErrorNotFound
}

func (b blindUsers) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, common.ErrorNotFound
}

type racingManager struct {
	*repomanager.SQLRepositoryManager
}

func (m racingManager) Users(db dbx.DBTX) usersrepo.Repository {
	return blindUsers{m.SQLRepositoryManager.Users(db)}
}

func TestSignup_UniqueConstraintRaceBecomesValidationError(t *testing.T) {
	base := newFixture(t)
	base.signup(t, alice)

	rm, err := repomanager.NewRepositoryManager("sqlite")
	require.NoError(t, err)
	f := newFixtureWith(t, base.db, racingManager{rm})

	_, err = f.svc.Signup(context.Background(), alice)
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, []string{validation.MsgAccountTaken}, problemsOf(t, err))
	assert.Equal(t, 1, f.count(t, "users"))
	assert.Equal(t, 1, f.count(t, "masterpassword"))
}

func TestSignup_FailuresReleaseConnections(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)

	for i := 0; i < 20; i++ {
		_, err := f.svc.Signup(context.Background(), alice)
		require.ErrorIs(t, err, common.ErrValidation)
	}

	bob := validation.Signup{Username: "bob", Email: "bob@x.com", Password: "Passw0rd!", MasterPassword: "MasterPass1!"}
	f.signup(t, bob)
	assert.Equal(t, 0, f.db.Stats().InUse)
}

// --- login ---

func TestLoginUsernamePassword_Failures(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	ctx := context.Background()

	_, err := f.svc.LoginUsernamePassword(ctx, "ghost", "Passw0rd!")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.svc.LoginUsernamePassword(ctx, "alice", "Wrong0rd!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLoginMaster_WrongMasterCreatesNoToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	ctx := context.Background()

	tmp, err := f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)

	_, err = f.svc.LoginMaster(ctx, tmp.Token, "WrongMaster1!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Equal(t, 0, f.count(t, "tokens"))
}

func TestLoginMaster_ReusesLiveRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	ctx := context.Background()

	tmp, err := f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)

	first, err := f.svc.LoginMaster(ctx, tmp.Token, "MasterPass1!")
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	second, err := f.svc.LoginMaster(ctx, tmp.Token, "MasterPass1!")
	require.NoError(t, err)

	assert.Equal(t, first.RefreshToken.Token, second.RefreshToken.Token)
	assert.NotEqual(t, first.AccessToken.Token, second.AccessToken.Token)
	assert.Equal(t, 1, f.count(t, "tokens"))
}

func TestLoginMaster_ExpiredRefreshTokenIsReplaced(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)

	first := f.login(t, alice)
	f.clock.Advance(72 * time.Hour)
	second := f.login(t, alice)

	assert.NotEqual(t, first.RefreshToken.Token, second.RefreshToken.Token)
	assert.Equal(t, 2, f.count(t, "tokens"), "expired rows are not swept by login")
}

func TestLoginMaster_TemporaryTokenExpiry(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	ctx := context.Background()

	tmp, err := f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.LoginMaster(ctx, tmp.Token, "MasterPass1!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.False(t, errors.Is(err, common.ErrorNotFound))
}

func TestLoginMaster_RejectsAccessTokenAsTemporary(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	pair := f.login(t, alice)

	_, err := f.svc.LoginMaster(context.Background(), pair.AccessToken.Token, "MasterPass1!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestVerifyAccessToken_RejectsTemporaryToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)

	tmp, err := f.svc.LoginUsernamePassword(context.Background(), "alice", "Passw0rd!")
	require.NoError(t, err)

	_, err = f.svc.VerifyAccessToken(tmp.Token)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

// --- logout ---

func TestLogout_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	pair := f.login(t, alice)
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, pair.AccessToken.Token))
	assert.Equal(t, 0, f.count(t, "tokens"))

	require.NoError(t, f.svc.Logout(ctx, pair.AccessToken.Token))

	_, _, err := f.svc.AuthenticateAndGenerateAccessToken(ctx, "", pair.RefreshToken.Token)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLogout_InvalidAccessToken(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Logout(context.Background(), "garbage"), common.ErrorUnauthorized)
}

// --- silent refresh ---

func TestAuthenticateAndGenerateAccessToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	pair := f.login(t, alice)
	ctx := context.Background()

	t.Run("present access token is returned as is", func(t *testing.T) {
		tok, fresh, err := f.svc.AuthenticateAndGenerateAccessToken(ctx, "anything", "")
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, "anything", tok.Token)
	})

	t.Run("refresh token mints access token", func(t *testing.T) {
		tok, fresh, err := f.svc.AuthenticateAndGenerateAccessToken(ctx, "", pair.RefreshToken.Token)
		require.NoError(t, err)
		assert.True(t, fresh)
		uid, err := f.svc.VerifyAccessToken(tok.Token)
		require.NoError(t, err)
		assert.Equal(t, pair.UserID, uid)
	})

	t.Run("missing or unknown refresh token", func(t *testing.T) {
		for _, rt := range []string{"", "deadbeef"} {
			_, _, err := f.svc.AuthenticateAndGenerateAccessToken(ctx, "", rt)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
		}
	})

	t.Run("expired refresh token", func(t *testing.T) {
		f.clock.Advance(72 * time.Hour)
		defer f.clock.Advance(-72 * time.Hour)
		_, _, err := f.svc.AuthenticateAndGenerateAccessToken(ctx, "", pair.RefreshToken.Token)
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.Equal(t, 1, f.count(t, "tokens"), "verification leaves expired rows in place")
	})
}

func TestAuthenticateAndGenerateAccessToken_AlwaysReverify(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AlwaysReverifyAccessToken = true })
	f.signup(t, alice)
	pair := f.login(t, alice)
	ctx := context.Background()

	tok, fresh, err := f.svc.AuthenticateAndGenerateAccessToken(ctx, pair.AccessToken.Token, "")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, pair.AccessToken.Token, tok.Token)

	tok, fresh, err = f.svc.AuthenticateAndGenerateAccessToken(ctx, "forged", pair.RefreshToken.Token)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NotEqual(t, "forged", tok.Token)

	_, _, err = f.svc.AuthenticateAndGenerateAccessToken(ctx, "forged", "")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

// --- profile ---

func TestUpdateProfile_Username(t *testing.T) {
	f := newFixture(t)
	p := f.signup(t, alice)
	f.signup(t, validation.Signup{Username: "bob", Email: "bob@x.com", Password: "Passw0rd!", MasterPassword: "MasterPass1!"})
	access := f.login(t, alice).AccessToken.Token
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, access, FieldUsername, "Passw0rd!", "alice")
	assert.Equal(t, []string{"New username is the same as the current username"}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldUsername, "Passw0rd!", "bob")
	assert.Equal(t, []string{validation.MsgUsernameTaken}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldUsername, "Passw0rd!", "Carol1")
	assert.Equal(t, []string{validation.MsgUsernameLetters, validation.MsgUsernameLower}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldUsername, "Wrong0rd!", "carol")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	updated, err := f.svc.UpdateProfile(ctx, access, FieldUsername, "Passw0rd!", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", updated.Username)

	cur, err := f.svc.CurrentUser(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, "carol", cur.Username)
}

func TestUpdateProfile_Password(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	access := f.login(t, alice).AccessToken.Token
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, access, FieldPassword, "Passw0rd!", "Passw0rd!")
	assert.Equal(t, []string{"New password is the same as the current password"}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldPassword, "Passw0rd!", "weak")
	assert.Equal(t, []string{validation.MsgPasswordWeak}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldPassword, "Passw0rd!", "N3wPassword!")
	require.NoError(t, err)

	_, err = f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	_, err = f.svc.LoginUsernamePassword(ctx, "alice", "N3wPassword!")
	assert.NoError(t, err)
}

func TestUpdateProfile_Master(t *testing.T) {
	f := newFixture(t)
	f.signup(t, alice)
	access := f.login(t, alice).AccessToken.Token
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, access, FieldMaster, "Passw0rd!", "MasterPass1!")
	assert.Equal(t, []string{"New master is the same as the current master"}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldMaster, "Passw0rd!", "Short1!")
	assert.Equal(t, []string{validation.MsgMasterWeak}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, access, FieldMaster, "Passw0rd!", "An0therMaster!")
	require.NoError(t, err)

	tmp, err := f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	_, err = f.svc.LoginMaster(ctx, tmp.Token, "MasterPass1!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	_, err = f.svc.LoginMaster(ctx, tmp.Token, "An0therMaster!")
	assert.NoError(t, err)
}

func TestUpdateProfile_InvalidFieldAndToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, "x", ProfileField("email"), "p", "v")
	assert.Equal(t, []string{"Invalid update type"}, problemsOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, "garbage", FieldUsername, "p", "v")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestParseProfileField(t *testing.T) {
	for _, ok := range []string{"username", "password", "master"} {
		f, err := ParseProfileField(ok)
		require.NoError(t, err)
		assert.Equal(t, ProfileField(ok), f)
	}
	_, err := ParseProfileField("email")
	assert.ErrorIs(t, err, common.ErrValidation)
}

// --- account removal ---

func TestRemoveAccount(t *testing.T) {
	f := newFixture(t)
	p := f.signup(t, alice)
	access := f.login(t, alice).AccessToken.Token
	ctx := context.Background()

	err := f.svc.RemoveAccount(ctx, access, "Passw0rd!", "WrongMaster1!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	err = f.svc.RemoveAccount(ctx, access, "Wrong0rd!", "MasterPass1!")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Equal(t, 1, f.count(t, "users"))

	require.NoError(t, f.svc.RemoveAccount(ctx, access, "Passw0rd!", "MasterPass1!"))
	assert.Equal(t, 0, f.count(t, "users"))
	assert.Equal(t, 0, f.count(t, "masterpassword"))
	assert.Equal(t, 0, f.count(t, "tokens"))

	_, err = f.svc.CurrentUser(ctx, p.UserID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	err = f.svc.RemoveAccount(ctx, access, "Passw0rd!", "MasterPass1!")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

// --- end to end ---

func TestScenario_SignupLoginLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, alice)
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, alice)
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "already in use")

	tmp, err := f.svc.LoginUsernamePassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)

	pair, err := f.svc.LoginMaster(ctx, tmp.Token, "MasterPass1!")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken.Token)
	assert.NotEmpty(t, pair.RefreshToken.Token)

	require.NoError(t, f.svc.Logout(ctx, pair.AccessToken.Token))
	require.NoError(t, f.svc.Logout(ctx, pair.AccessToken.Token))
}
