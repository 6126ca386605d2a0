package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talwar/internal/booking"
	"talwar/internal/config"
	"talwar/internal/domain"
	"talwar/internal/services"
	"talwar/internal/util"
	apperrors "talwar/pkg/errors"
)

type memoryStore struct {
	mu      sync.Mutex
	records []booking.Record
}

func (s *memoryStore) Insert(ctx context.Context, p booking.Payload) (booking.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := booking.RecordID(strconv.Itoa(len(s.records) + 1))
	s.records = append([]booking.Record{{ID: id, Name: p.Name, Email: p.Email, Phone: p.Phone, CreatedAt: p.CreatedAt}}, s.records...)
	return id, nil
}

func (s *memoryStore) List(ctx context.Context, skip, limit int) ([]booking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if skip >= len(s.records) {
		return nil, nil
	}
	end := skip + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return append([]booking.Record(nil), s.records[skip:end]...), nil
}

type staticUsers map[string]*domain.User

func (u staticUsers) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, ok := u[username]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "user not found")
	}
	return user, nil
}

func (u staticUsers) TouchLogin(ctx context.Context, user *domain.User, at time.Time) error {
	return nil
}

type testEnv struct {
	handler http.Handler
	store   *memoryStore
	cfg     *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "Talwar Interiors API", Version: "test", Debug: true, Port: "0"},
		Auth: config.AuthConfig{
			SecretKey:          "a-very-long-secret-key-for-tests-0123456789",
			TokenExpiryMinutes: 30,
			Algorithm:          "HS256",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         600,
		},
		Booking: config.BookingConfig{
			Store:            config.StoreDatabase,
			ResetDelay:       booking.DefaultResetDelay,
			SessionTTL:       30 * time.Minute,
			MaxSessions:      100,
			SubmitRatePerMin: 600,
			SubmitBurst:      100,
		},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	hash, err := util.HashPassword("correct horse")
	require.NoError(t, err)
	users := staticUsers{
		"studio": {ID: 1, Username: "studio", Email: "studio@talwarinteriors.in", Role: domain.RoleStaff, IsActive: true, HashedPassword: hash},
	}

	store := &memoryStore{}
	log := zap.NewNop()
	bookings := services.NewBookingService(store, cfg.Booking, log)
	auth := services.NewAuthService(users, cfg.Auth, log)
	health := services.NewHealthService(cfg.App.Name, cfg.App.Version, map[string]services.Pinger{
		"store": services.PingFunc(func(ctx context.Context) error { return nil }),
	}, bookings, log)

	return &testEnv{handler: New(cfg, bookings, auth, health, log), store: store, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBookingSessionOverHTTP(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/booking/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	opened := decodeBody[SessionResponse](t, rec)
	require.NotEmpty(t, opened.SessionID)
	assert.Equal(t, booking.StatusIdle, opened.Status)
	assert.Equal(t, "/api/v1/booking/sessions/"+opened.SessionID, rec.Header().Get("Location"))
	base := "/api/v1/booking/sessions/" + opened.SessionID

	for field, value := range map[string]string{"name": "Jane Doe", "email": "jane@example.com", "phone": "5551234567"} {
		rec = env.do(t, http.MethodPut, base+"/fields/"+field, `{"value": "`+value+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, base+"/submit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	submitted := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, booking.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.ConfirmationID)
	assert.Equal(t, booking.RecordID("1"), *submitted.ConfirmationID)
	assert.Contains(t, rec.Body.String(), `"confirmation_id":1`)

	rec = env.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.StatusSubmitted, decodeBody[SessionResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, base+"/submit", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, services.ErrNameConflict, decodeBody[ErrorBody](t, rec).Name)

	rec = env.do(t, http.MethodDelete, base, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decodeBody[ErrorBody](t, rec)
	assert.Equal(t, services.ErrNameNotFound, errBody.Name)
	assert.NotEmpty(t, errBody.ID)
}

func TestBookingSessionValidationOverHTTP(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/booking/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	base := "/api/v1/booking/sessions/" + decodeBody[SessionResponse](t, rec).SessionID

	rec = env.do(t, http.MethodPut, base+"/fields/budget", `{"value": "lots"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/fields/name", `{"value": `, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/fields/name", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/submit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, booking.StatusError, st.Status)
	assert.Equal(t, booking.ValidationMessage, st.ErrorMessage)
	assert.Equal(t, booking.KindValidation, st.ErrorKind)
	assert.Empty(t, env.store.records)

	rec = env.do(t, http.MethodPost, "/api/v1/booking/sessions/does-not-exist/submit", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOneShotSubmit(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/booking/submit",
		`{"name": "Arjun Mehta", "email": "arjun@example.com", "phone": "+91 90007 01000", "time": "morning"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decodeBody[booking.State](t, rec)
	assert.Equal(t, booking.StatusSubmitted, st.Status)
	require.Len(t, env.store.records, 1)
	assert.Equal(t, "Arjun Mehta", env.store.records[0].Name)

	rec = env.do(t, http.MethodPost, "/api/v1/booking/submit", `{"name": "Arjun Mehta"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeBody[booking.State](t, rec)
	assert.Equal(t, booking.StatusError, st.Status)
	assert.Equal(t, "Please fill in name, email, and phone.", st.ErrorMessage)

	rec = env.do(t, http.MethodPost, "/api/v1/booking/submit", `{"name": "Arjun", "budget": "lots"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/booking/submit", `["not", "an", "object"]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.store.records, 1)
}

func TestSubmitRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Booking.SubmitRatePerMin = 1
	cfg.Booking.SubmitBurst = 2
	// httptest requests come from 192.0.2.1
	cfg.App.TrustedProxies = []string{"192.0.2.1", "10.0.0.0/8"}
	env := newTestEnv(t, cfg)

	body := `{"name": "A", "email": "a@b.c", "phone": "1"}`
	fromA := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}
	fromB := map[string]string{"X-Forwarded-For": "198.51.100.2"}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/booking/submit", body, fromA).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/booking/submit", body, fromA).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/booking/submit", body, fromA)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, services.ErrNameRateLimited, decodeBody[ErrorBody](t, rec).Name)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/booking/submit", body, fromB).Code)

	// field edits are not limited
	rec = env.do(t, http.MethodPost, "/api/v1/booking/sessions", "", fromA)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSubmitRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	cfg := testConfig()
	cfg.Booking.SubmitRatePerMin = 1
	cfg.Booking.SubmitBurst = 1
	env := newTestEnv(t, cfg)

	body := `{"name": "A", "email": "a@b.c", "phone": "1"}`
	allowed := 0
	for i := 0; i < 20; i++ {
		spoofed := map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)}
		if env.do(t, http.MethodPost, "/api/v1/booking/submit", body, spoofed).Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
	assert.Len(t, env.store.records, 1)
}

func TestClientIP(t *testing.T) {
	proxies, err := config.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	clients := clientResolver{trusted: proxies}

	cases := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{name: "untrusted peer", remote: "198.51.100.9:4000", xff: "203.0.113.7", want: "198.51.100.9"},
		{name: "trusted peer", remote: "10.0.0.2:4000", xff: "203.0.113.7", want: "203.0.113.7"},
		{name: "spoofed leftmost hop", remote: "10.0.0.2:4000", xff: "1.2.3.4, 203.0.113.7, 10.0.0.3", want: "203.0.113.7"},
		{name: "garbage hop", remote: "10.0.0.2:4000", xff: "not-an-ip", xri: "203.0.113.8", want: "203.0.113.8"},
		{name: "no headers", remote: "10.0.0.2:4000", want: "10.0.0.2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				r.Header.Set("X-Real-IP", tc.xri)
			}
			assert.Equal(t, tc.want, clients.clientIP(r))
		})
	}
}

func TestRateLimiterIsBounded(t *testing.T) {
	l := newIPRateLimiter(1, 1)
	for i := 0; i < maxTrackedClients+50; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	assert.Equal(t, maxTrackedClients, l.limiters.Len())

	assert.True(t, l.Allow("fresh"))
	assert.False(t, l.Allow("fresh"))
}

func TestStaffEndpoints(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, name := range []string{"First", "Second"} {
		rec := env.do(t, http.MethodPost, "/api/v1/booking/submit", `{"name": "`+name+`", "email": "x@y.z", "phone": "1"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/booking/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", `{"username": "studio", "password": "wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", `{"username": "studio", "password": "correct horse"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[services.LoginResult](t, rec)
	require.NotEmpty(t, login.AccessToken)
	bearer := map[string]string{"Authorization": "Bearer " + login.AccessToken}

	rec = env.do(t, http.MethodGet, "/api/v1/booking/?limit=1", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeBody[[]booking.Record](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "Second", records[0].Name)

	rec = env.do(t, http.MethodGet, "/api/v1/booking/?skip=5", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/booking/?limit=ten", "", bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, "studio", me["username"])
	assert.NotContains(t, me, "HashedPassword")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[services.HealthResult](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Checks["store"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.App.Debug = false
	cfg.CORS.AllowedOrigins = []string{"https://talwarinteriors.in"}
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodOptions, "/api/v1/booking/submit", "", map[string]string{"Origin": "https://talwarinteriors.in"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://talwarinteriors.in", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodOptions, "/api/v1/booking/submit", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
