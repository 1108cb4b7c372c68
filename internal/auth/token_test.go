package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/kycgate/internal/auth"
)

const testKey = "test-signing-key-must-be-32-chars!!"

func TestTokenService_CreateAndValidate(t *testing.T) {
	svc := auth.NewTokenService(testKey, "kycgate", 24)

	principal := &auth.Principal{
		UserID:              "user-123",
		Role:                "support",
		ExplicitPermissions: []string{"kyc:manage"},
		Hierarchy:           3,
	}

	token, err := svc.CreateAccessToken(principal)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, "user-123", got.UserID)
	assert.Equal(t, "support", got.Role)
	assert.Equal(t, []string{"kyc:manage"}, got.ExplicitPermissions)
	assert.Equal(t, 3, got.Hierarchy)
	assert.Equal(t, auth.TokenTypeAccess, got.TokenType)
}

func TestTokenService_RequiresUserID(t *testing.T) {
	svc := auth.NewTokenService(testKey, "kycgate", 24)

	_, err := svc.CreateAccessToken(&auth.Principal{Role: "admin"})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = svc.CreateAccessToken(nil)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_ExpiredToken(t *testing.T) {
	svc := auth.NewTokenService(testKey, "kycgate", 1)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return issued })

	token, err := svc.CreateAccessToken(&auth.Principal{UserID: "user-123", Role: "user"})
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return issued.Add(2 * time.Hour) })
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_InvalidSignature(t *testing.T) {
	svc1 := auth.NewTokenService("signing-key-one-must-be-32-chars!!", "kycgate", 24)
	svc2 := auth.NewTokenService("signing-key-two-must-be-32-chars!!", "kycgate", 24)

	token, err := svc1.CreateAccessToken(&auth.Principal{UserID: "user-123"})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_WrongIssuer(t *testing.T) {
	svc1 := auth.NewTokenService(testKey, "kycgate", 24)
	svc2 := auth.NewTokenService(testKey, "other-service", 24)

	token, err := svc1.CreateAccessToken(&auth.Principal{UserID: "user-123"})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_MalformedToken(t *testing.T) {
	svc := auth.NewTokenService(testKey, "kycgate", 24)

	_, err := svc.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_RejectsNoneAlgorithm(t *testing.T) {
	svc := auth.NewTokenService(testKey, "kycgate", 24)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": "kycgate", "uid": "user-123", "role": "superadmin", "type": "access",
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}
