package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/api"
	"github.com/visera/backend/internal/app"
	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/cache"
	sharedtestutil "github.com/visera/backend/internal/database/testutil"
	"github.com/visera/backend/internal/middleware"
	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/pkg/mail"
	"github.com/visera/backend/pkg/response"
)

const (
	// FrontendURL is the base URL rendered into verification links.
	FrontendURL = "https://app.example.com"
	// AccessCookie and RefreshCookie are the session cookie names used by the test router.
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

var otpPattern = regexp.MustCompile(`verification code is (\d+)`)

// RecordingMailer captures outbound mail instead of delivering it.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	Err      error
}

// Send implements mail.Mailer.
func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Last returns the most recent message sent to email.
func (m *RecordingMailer) Last(email string) (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		for _, to := range m.messages[i].To {
			if strings.EqualFold(to, email) {
				return m.messages[i], true
			}
		}
	}
	return mail.Message{}, false
}

// Count returns how many messages were captured.
func (m *RecordingMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Config   *app.Config
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Mailer   *RecordingMailer

	csrfToken  string
	csrfCookie *http.Cookie
}

// Option adjusts the configuration before the router is built.
type Option func(*app.Config)

// WithCSRF enables the double-submit CSRF middleware.
func WithCSRF() Option {
	return func(cfg *app.Config) {
		cfg.Server.CSRF.Enabled = true
	}
}

// WithoutRateLimit disables request limiting.
func WithoutRateLimit() Option {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit.Enabled = false
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Environment: "test",
		Server: app.ServerConfig{
			RateLimit: app.RateLimitConfig{Enabled: true, Requests: 1000, AuthRequests: 100, Window: time.Minute},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret:        "test-suite-super-secret-key-32-bytes!!",
				Issuer:        "test-suite",
				ExpireMinutes: 60,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
			Cookie: app.CookieSettings{Name: AccessCookie, RefreshName: RefreshCookie},
			OTP:    app.OTPSettings{ResendCooldown: -1},
		},
		Email:    app.EmailConfig{AppName: "Visera"},
		Frontend: app.FrontendConfig{URL: FrontendURL},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mailer := &RecordingMailer{}
	router, err := api.NewRouter(db, cfg, api.Dependencies{
		JWT:       jwtSvc,
		Sessions:  sessionSvc,
		Mailer:    mailer,
		RateStore: middleware.NewMemoryRateStore(ctx),
		Cache:     cache.NewDatabaseStore(db),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		Config:   cfg,
		JWT:      jwtSvc,
		Sessions: sessionSvc,
		Mailer:   mailer,
	}
}

// UserPayload mirrors the public user representation.
type UserPayload struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	IsEmailVerified bool      `json:"is_email_verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// LoginResult bundles the JSON response from POST /auth/login and the cookies it set.
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	RefreshToken string      `json:"refresh_token"`
	User         UserPayload `json:"user"`
	Cookies      []*http.Cookie
}

// Cookie returns the named cookie from the login response.
func (r LoginResult) Cookie(name string) *http.Cookie {
	return findCookie(r.Cookies, name)
}

// SignUp registers a user through POST /users and returns the user and session cookies.
func (e *Env) SignUp(email, password string) (UserPayload, []*http.Cookie) {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/users", map[string]string{"email": email, "password": password}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var user UserPayload
	DecodeJSON(e.T, w, &user)
	return user, w.Result().Cookies()
}

// Login authenticates and returns the issued access token.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result LoginResult
	DecodeJSON(e.T, w, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Equal(e.T, "bearer", result.TokenType)
	result.Cookies = w.Result().Cookies()
	return result
}

// CreateVerifiedUser signs a user up and verifies the email with the mailed code.
func (e *Env) CreateVerifiedUser(email, password string) LoginResult {
	e.T.Helper()

	e.SignUp(email, password)
	login := e.Login(email, password)

	w := e.Request(http.MethodPost, "/auth/verify-otp", map[string]string{"code": e.LatestOTP(email)}, login.AccessToken)
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	login.User.IsEmailVerified = true
	return login
}

// LatestOTP returns the code from the newest verification email sent to email.
func (e *Env) LatestOTP(email string) string {
	e.T.Helper()

	msg, ok := e.Mailer.Last(email)
	require.True(e.T, ok, "no mail sent to %s", email)
	match := otpPattern.FindStringSubmatch(msg.Body)
	require.Len(e.T, match, 2, msg.Body)
	return match[1]
}

// LatestVerificationToken returns the link token from the newest verification email sent to email.
func (e *Env) LatestVerificationToken(email string) string {
	e.T.Helper()

	msg, ok := e.Mailer.Last(email)
	require.True(e.T, ok, "no mail sent to %s", email)

	idx := strings.Index(msg.Body, FrontendURL+"/verify-email?")
	require.GreaterOrEqual(e.T, idx, 0, msg.Body)
	link, err := url.Parse(strings.Fields(msg.Body[idx:])[0])
	require.NoError(e.T, err)

	token := link.Query().Get("token")
	require.NotEmpty(e.T, token)
	return token
}

// FindUser loads a user row, including soft deleted ones.
func (e *Env) FindUser(email string) models.User {
	e.T.Helper()
	var user models.User
	require.NoError(e.T, e.DB.Unscoped().Where("email = ?", strings.ToLower(email)).Order("created_at DESC").First(&user).Error)
	return user
}

// DecodeJSON unmarshals the recorder body into dest.
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

// DecodeError parses the standard error body.
func DecodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	DecodeJSON(t, w, &body)
	return body
}

// Request executes an HTTP request against the test router, applying JSON encoding and the
// bearer token when one is given.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, token, nil, false)
}

// RequestWithCookies executes a request authenticated only by cookies, as a browser would.
func (e *Env) RequestWithCookies(method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, "", cookies, false)
}

func (e *Env) request(method, path string, body any, token string, cookies []*http.Cookie, skipCSRF bool) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		if c.Value != "" && c.MaxAge >= 0 {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	if e.Config.Server.CSRF.Enabled && !skipCSRF && requiresCSRFAttestation(method) {
		e.ensureCSRFToken()
		if e.csrfCookie != nil {
			req.AddCookie(e.csrfCookie)
		}
		if e.csrfToken != "" {
			req.Header.Set(middleware.CSRFHeaderName, e.csrfToken)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCSRF(w.Result())
	return w
}

func (e *Env) ensureCSRFToken() {
	if e.csrfToken != "" && e.csrfCookie != nil {
		return
	}
	resp := e.request(http.MethodGet, "/health", nil, "", nil, true)
	require.Equal(e.T, http.StatusOK, resp.Code, resp.Body.String())
}

func (e *Env) captureCSRF(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(middleware.CSRFHeaderName); token != "" {
		e.csrfToken = token
	}
	if c := findCookie(resp.Cookies(), middleware.CSRFCookieName); c != nil {
		e.csrfCookie = &http.Cookie{Name: c.Name, Value: c.Value}
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func requiresCSRFAttestation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
