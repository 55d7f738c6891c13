package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendguard/internal/biometric"
	"attendguard/internal/biometric/handler"
	"attendguard/internal/biometric/store/memory"
	"attendguard/internal/ledger"
	ledgermemory "attendguard/internal/ledger/store/memory"
	"attendguard/pkg/domain"
	"attendguard/pkg/requestcontext"
	"attendguard/pkg/testutil"
)

func newRouter(t *testing.T, now time.Time) (http.Handler, *biometric.Service) {
	t.Helper()
	l, err := ledger.New(ledgermemory.NewInMemoryStore(100))
	require.NoError(t, err)
	key, err := biometric.DeriveKey([]byte("test-secret"))
	require.NoError(t, err)
	svc, err := biometric.New(memory.NewInMemoryStore(), l, key)
	require.NoError(t, err)

	h := handler.New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Use(testutil.PinRequest(now, "admin-1"))
	h.Register(r)
	r.Route("/admin", h.RegisterAdmin)
	return r, svc
}

func TestIssueChallenge(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	router, _ := newRouter(t, now)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/biometric/challenges", `{"employee_id":"101"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	issued := testutil.UnmarshalResponse[biometric.IssuedChallenge](t, rec)
	assert.NotEmpty(t, issued.SessionID)
	assert.Equal(t, 30, issued.TTLSeconds)
	assert.True(t, now.Add(30*time.Second).Equal(issued.ExpiresAt))

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/biometric/challenges", `{"employee_id":"E101"}`))
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "invalid_input")
}

func TestSecurityStatusAndReset(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	router, svc := newRouter(t, now)

	ctx := requestcontext.WithTime(context.Background(), now)
	for range 3 {
		ch, err := svc.IssueChallenge(ctx, 101)
		require.NoError(t, err)
		id, err := domain.ParseChallengeID(ch.SessionID)
		require.NoError(t, err)
		_, err = svc.Verify(ctx, biometric.VerifyRequest{SessionID: id, Response: "wrong"})
		require.NoError(t, err)
	}

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/admin/biometric/101", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, testutil.UnmarshalResponse[biometric.SecurityStatus](t, rec).LockedOut)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodDelete, "/admin/biometric/101/lockout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/admin/biometric/101", nil))
	status := testutil.UnmarshalResponse[biometric.SecurityStatus](t, rec)
	assert.False(t, status.LockedOut)
	assert.Equal(t, 0, status.FailedAttempts)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/admin/biometric/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
