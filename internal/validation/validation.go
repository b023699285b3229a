// Package validation holds the account rules shared by signup and profile
// updates. Rule checks return user-facing messages so callers can report
// every violation at once.
package validation

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinUsernameLen       = 3
	MaxUsernameLen       = 15
	MinPasswordLen       = 8
	MinMasterPasswordLen = 10
	// MaxSecretBytes is the bcrypt input limit; longer secrets would be
	// silently truncated by other bcrypt implementations.
	MaxSecretBytes = 72
)

const (
	MsgUsernameLength   = "The username must be between 3 and 15 characters long."
	MsgUsernameLetters  = "The username must contain only letters."
	MsgUsernameLower    = "The username must be in lowercase."
	MsgUsernameSpaces   = "The username must not contain spaces."
	MsgUsernameReserved = "The username you have chosen is reserved or not allowed."
	MsgEmailInvalid     = "The email address is not valid."
	MsgPasswordWeak     = "The password does not meet complexity requirements."
	MsgMasterWeak       = "The master password does not meet complexity requirements."
	MsgUsernameTaken    = "This username is already in use."
	MsgEmailTaken       = "This email address is already in use."
	MsgAccountTaken     = "This username or email address is already in use."
)

var reservedUsernames = map[string]struct{}{
	"admin":     {},
	"user":      {},
	"superuser": {},
	"root":      {},
}

var (
	lettersOnly = regexp.MustCompile(`^[a-zA-Z]+$`)
	hasLetter   = regexp.MustCompile(`[a-zA-Z]`)
	hasDigit    = regexp.MustCompile(`[0-9]`)
	hasSymbol   = regexp.MustCompile(`[!@#$%^&*()\-_=+{};:,<.>]`)
)

// UsernameProblems returns every username rule the value breaks.
func UsernameProblems(username string) []string {
	var problems []string

	if n := utf8.RuneCountInString(username); n < MinUsernameLen || n > MaxUsernameLen {
		problems = append(problems, MsgUsernameLength)
	}
	if !lettersOnly.MatchString(username) {
		problems = append(problems, MsgUsernameLetters)
	}
	if username != strings.ToLower(username) {
		problems = append(problems, MsgUsernameLower)
	}
	if strings.Contains(username, " ") {
		problems = append(problems, MsgUsernameSpaces)
	}
	if _, ok := reservedUsernames[strings.ToLower(username)]; ok {
		problems = append(problems, MsgUsernameReserved)
	}

	return problems
}

// ValidEmail accepts a bare addr-spec with a dotted domain ("a@b.io").
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return !strings.ContainsAny(email, " \t")
}

// StrongPassword reports whether secret has at least minLen characters,
// a letter, a digit and a symbol, and fits bcrypt's input limit.
func StrongPassword(secret string, minLen int) bool {
	return utf8.RuneCountInString(secret) >= minLen &&
		len(secret) <= MaxSecretBytes &&
		hasLetter.MatchString(secret) &&
		hasDigit.MatchString(secret) &&
		hasSymbol.MatchString(secret)
}

// Signup is the unvalidated signup request.
type Signup struct {
	Username       string
	Email          string
	Password       string
	MasterPassword string
}

// Problems runs every format rule without short-circuiting. Uniqueness
// needs the database and is checked by the caller.
func (s Signup) Problems() []string {
	problems := UsernameProblems(s.Username)

	if !ValidEmail(s.Email) {
		problems = append(problems, MsgEmailInvalid)
	}
	if !StrongPassword(s.Password, MinPasswordLen) {
		problems = append(problems, MsgPasswordWeak)
	}
	if !StrongPassword(s.MasterPassword, MinMasterPasswordLen) {
		problems = append(problems, MsgMasterWeak)
	}

	return problems
}
