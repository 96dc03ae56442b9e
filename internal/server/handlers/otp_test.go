package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/scaffoldir/scaffoldir/internal/errors"
	"github.com/scaffoldir/scaffoldir/internal/otp"
	"github.com/scaffoldir/scaffoldir/internal/ratelimit"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) Send(_ context.Context, email, code string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[email] = code
	return nil
}

func (s *captureSender) code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

func newOTPHandler(now *time.Time, max int) (*OTPHandler, *captureSender) {
	clock := func() time.Time { return *now }
	sender := &captureSender{}
	return &OTPHandler{
		Service: &otp.Service{
			Limiter:     ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock)),
			Codes:       otp.NewCodeStore(),
			Sender:      sender,
			Window:      time.Minute,
			MaxRequests: max,
			CodeTTL:     10 * time.Minute,
			Clock:       clock,
		},
	}, sender
}

func postJSON(handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4711"
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestOTPRequestAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h, sender := newOTPHandler(&now, 5)

	rec := postJSON(h.Request, "/api/v1/otp", `{"email":"Info@Geruestbau-Mueller.de"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Reset"))

	var issued OTPRequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	assert.Equal(t, "sent", issued.Status)
	assert.NotEmpty(t, issued.RequestID)

	code := sender.code("info@geruestbau-mueller.de")
	require.Len(t, code, 6)

	rec = postJSON(h.Verify, "/api/v1/otp/verify", `{"email":"info@geruestbau-mueller.de","code":"`+code+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(h.Verify, "/api/v1/otp/verify", `{"email":"info@geruestbau-mueller.de","code":"`+code+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPRequestRateLimited(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h, _ := newOTPHandler(&now, 5)

	for i := 0; i < 5; i++ {
		rec := postJSON(h.Request, "/api/v1/otp", `{"email":"a@example.de"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	now = now.Add(10 * time.Second)
	rec := postJSON(h.Request, "/api/v1/otp", `{"email":"a@example.de"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "50", rec.Header().Get("Retry-After"))

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeTooManyRequests, body.Error.Code)
	assert.Equal(t, "Zu viele Anfragen. Bitte in 50 Sekunden erneut versuchen.", body.Error.Message)

	now = now.Add(50 * time.Second)
	rec = postJSON(h.Request, "/api/v1/otp", `{"email":"a@example.de"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestOTPRequestRejectsBadInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h, _ := newOTPHandler(&now, 1)

	assert.Equal(t, http.StatusBadRequest, postJSON(h.Request, "/api/v1/otp", `{"email":"not-an-address"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(h.Request, "/api/v1/otp", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(h.Request, "/api/v1/otp", `{"mail":"a@example.de"}`).Code)

	// Rejected input did not spend the single allowed request.
	assert.Equal(t, http.StatusAccepted, postJSON(h.Request, "/api/v1/otp", `{"email":"a@example.de"}`).Code)
}
