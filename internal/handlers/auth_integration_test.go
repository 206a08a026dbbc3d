package handlers_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/handlers/testutil"
	"github.com/visera/backend/internal/models"
)

var errMailDown = errors.New("smtp: connection refused")

func TestLoginFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	user, _ := env.SignUp("login@example.com", "password-1")

	result := env.Login("LOGIN@example.com", "password-1")
	require.Equal(t, user.ID, result.User.ID)
	require.Empty(t, result.RefreshToken, "browser logins keep the refresh token in a cookie")

	access := result.Cookie(testutil.AccessCookie)
	require.NotNil(t, access)
	require.True(t, access.HttpOnly)
	require.Equal(t, result.AccessToken, access.Value)

	refresh := result.Cookie(testutil.RefreshCookie)
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, iauth.RefreshCookiePath, refresh.Path)

	var stored models.User
	require.NoError(t, env.DB.First(&stored, "id = ?", user.ID).Error)
	require.NotNil(t, stored.LastLoginAt)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("victim@example.com", "password-1")

	for _, body := range []map[string]string{
		{"email": "victim@example.com", "password": "wrong-password"},
		{"email": "nobody@example.com", "password": "password-1"},
	} {
		w := env.Request(http.MethodPost, "/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
		require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		require.Equal(t, "Incorrect email or password", testutil.DecodeError(t, w).Detail)
	}

	w := env.Request(http.MethodPost, "/auth/login", map[string]string{"email": "victim@example.com"}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMeAcceptsCookieAndBearer(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("me@example.com", "password-1")
	login := env.Login("me@example.com", "password-1")

	w := env.Request(http.MethodGet, "/auth/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me testutil.UserPayload
	testutil.DecodeJSON(t, w, &me)
	require.Equal(t, "me@example.com", me.Email)

	w = env.RequestWithCookies(http.MethodGet, "/auth/me", nil, login.Cookies)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestMeRejectsMissingAndInvalidTokens(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("tokens@example.com", "password-1")

	w := env.Request(http.MethodGet, "/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Not authenticated", testutil.DecodeError(t, w).Detail)

	w = env.Request(http.MethodGet, "/auth/me", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid or expired token", testutil.DecodeError(t, w).Detail)

	// A verification link token must not work as an access token.
	user := env.FindUser("tokens@example.com")
	linkToken, err := env.JWT.GenerateEmailVerificationToken(user.ID, user.Email)
	require.NoError(t, err)
	w = env.Request(http.MethodGet, "/auth/me", nil, linkToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeRejectsTokenForMissingUser(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("ghost@example.com", "password-1")
	login := env.Login("ghost@example.com", "password-1")

	require.NoError(t, env.DB.Delete(&models.User{}, "id = ?", login.User.ID).Error)

	w := env.Request(http.MethodGet, "/auth/me", nil, login.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "User not found", testutil.DecodeError(t, w).Detail)
}

func TestLogoutRevokesSession(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("logout@example.com", "password-1")
	login := env.Login("logout@example.com", "password-1")

	w := env.Request(http.MethodPost, "/auth/logout", nil, login.AccessToken)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/auth/me", nil, login.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Session has been revoked", testutil.DecodeError(t, w).Detail)

	// Logging out again is harmless.
	w = env.Request(http.MethodPost, "/auth/logout", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogoutWithRefreshCookieOnly(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("cookie-logout@example.com", "password-1")
	login := env.Login("cookie-logout@example.com", "password-1")

	refreshOnly := []*http.Cookie{login.Cookie(testutil.RefreshCookie)}
	w := env.RequestWithCookies(http.MethodPost, "/auth/logout", nil, refreshOnly)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.Request(http.MethodGet, "/auth/me", nil, login.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("refresh@example.com", "password-1")
	login := env.Login("refresh@example.com", "password-1")

	w := env.RequestWithCookies(http.MethodPost, "/auth/refresh", nil, login.Cookies)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var refreshed testutil.LoginResult
	testutil.DecodeJSON(t, w, &refreshed)
	require.NotEmpty(t, refreshed.AccessToken)
	require.Equal(t, "bearer", refreshed.TokenType)
	require.Empty(t, refreshed.RefreshToken)

	var rotated *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == testutil.RefreshCookie {
			rotated = c
		}
	}
	require.NotNil(t, rotated)
	require.NotEqual(t, login.Cookie(testutil.RefreshCookie).Value, rotated.Value)

	// The previous refresh token is spent.
	w = env.RequestWithCookies(http.MethodPost, "/auth/refresh", nil, []*http.Cookie{login.Cookie(testutil.RefreshCookie)})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	require.Equal(t, http.StatusOK, env.Request(http.MethodGet, "/auth/me", nil, refreshed.AccessToken).Code)
}

func TestRefreshFromBody(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("api-client@example.com", "password-1")
	login := env.Login("api-client@example.com", "password-1")
	token := login.Cookie(testutil.RefreshCookie).Value

	w := env.Request(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": token}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var refreshed testutil.LoginResult
	testutil.DecodeJSON(t, w, &refreshed)
	require.NotEmpty(t, refreshed.RefreshToken)
	require.NotEqual(t, token, refreshed.RefreshToken)

	w = env.Request(http.MethodPost, "/auth/refresh", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Not authenticated", testutil.DecodeError(t, w).Detail)
}

func TestVerifyOTPFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("otp@example.com", "password-1")
	login := env.Login("otp@example.com", "password-1")
	code := env.LatestOTP("otp@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	w := env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": wrong}, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": "12ab56"}, login.AccessToken)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": code}, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var verified testutil.UserPayload
	testutil.DecodeJSON(t, w, &verified)
	require.True(t, verified.IsEmailVerified)

	w = env.Request(http.MethodPost, "/auth/resend-otp", nil, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Email already verified", testutil.DecodeError(t, w).Detail)
}

func TestVerifyOTPLocksAfterTooManyAttempts(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("locked@example.com", "password-1")
	login := env.Login("locked@example.com", "password-1")
	code := env.LatestOTP("locked@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	var last int
	for i := 0; i < 5; i++ {
		w := env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": wrong}, login.AccessToken)
		last = w.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)

	w := env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": code}, login.AccessToken)
	require.NotEqual(t, http.StatusOK, w.Code, "a locked code must not verify")
}

func TestResendOTPInvalidatesPreviousCode(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("resend@example.com", "password-1")
	login := env.Login("resend@example.com", "password-1")
	first := env.LatestOTP("resend@example.com")

	w := env.Request(http.MethodPost, "/auth/resend-otp", nil, login.AccessToken)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.JSONEq(t, `{"detail":"Verification code sent"}`, w.Body.String())
	require.Equal(t, 2, env.Mailer.Count())

	second := env.LatestOTP("resend@example.com")
	if first != second {
		w = env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": first}, login.AccessToken)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	w = env.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": second}, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestResendOTPMailFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("flaky@example.com", "password-1")
	login := env.Login("flaky@example.com", "password-1")

	env.Mailer.Err = errMailDown
	w := env.Request(http.MethodPost, "/auth/resend-otp", nil, login.AccessToken)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestVerifyEmailLink(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("link@example.com", "password-1")
	token := env.LatestVerificationToken("link@example.com")

	w := env.Request(http.MethodPost, "/auth/verify-email", map[string]string{"token": token}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var verified testutil.UserPayload
	testutil.DecodeJSON(t, w, &verified)
	require.True(t, verified.IsEmailVerified)

	login := env.Login("link@example.com", "password-1")
	w = env.Request(http.MethodPost, "/auth/verify-email", map[string]string{"token": login.AccessToken}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Invalid or expired verification link", testutil.DecodeError(t, w).Detail)

	w = env.Request(http.MethodPost, "/auth/verify-email", map[string]string{"token": "  "}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCSRFProtectsCookieRequests(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithCSRF())
	_, cookies := env.SignUp("csrf@example.com", "password-1")

	// The environment echoes the CSRF token automatically.
	w := env.RequestWithCookies(http.MethodPost, "/auth/logout", nil, cookies)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
}
