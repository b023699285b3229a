package common

// Cookie names shared by the HTTP boundary and its tests.
const (
	TemporaryAccessTokenCookie = "temporaryAccessToken"
	AccessTokenCookie          = "accessToken"
	RefreshTokenCookie         = "refreshToken"
	SessionCookie              = "session"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"
