package adminauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "attendguard/pkg/domain-errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-signing-key", "attendguard", "attendguard-admin")
	require.NoError(t, err)
	return svc
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.IssueAdminToken("admin-1", time.Now(), time.Hour)
	require.NoError(t, err)

	subject, err := svc.ValidateAdmin(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", subject)
}

func TestValidateAdmin_Rejections(t *testing.T) {
	svc := newTestService(t)

	t.Run("expired", func(t *testing.T) {
		token, err := svc.IssueAdminToken("admin-1", time.Now().Add(-2*time.Hour), time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateAdmin(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateAdmin("invalid-token-string")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("other key", func(t *testing.T) {
		other, err := NewService("another-key", "attendguard", "attendguard-admin")
		require.NoError(t, err)
		token, err := other.IssueAdminToken("admin-1", time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateAdmin(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("other audience", func(t *testing.T) {
		other, err := NewService("test-signing-key", "attendguard", "kiosk")
		require.NoError(t, err)
		token, err := other.IssueAdminToken("admin-1", time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateAdmin(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("missing role", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "employee-7",
				Issuer:    "attendguard",
				Audience:  []string{"attendguard-admin"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString([]byte("test-signing-key"))
		require.NoError(t, err)
		_, err = svc.ValidateAdmin(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestNewService_RequiresKey(t *testing.T) {
	_, err := NewService("", "attendguard", "attendguard-admin")
	assert.Error(t, err)
}
