package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foilportal/pkg/models"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.NoError(t, CheckPassword(hash, "correct horse battery staple"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestIssueTokenCarriesCompositeIdentity(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour, nil)
	user := &models.User{GUID: "abc123", AuthType: models.AuthPublicUserID}

	signed, err := ts.IssueToken(user)
	require.NoError(t, err)

	claims := &JWTClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "abc123", claims.GUID)
	assert.Equal(t, string(models.AuthPublicUserID), claims.AuthUserType)
	assert.Equal(t, user.CompositeID(), claims.Subject)
}

func TestValidateAccessTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenService("secret-a", time.Hour, nil)
	verifier := NewTokenService("secret-b", time.Hour, nil)

	signed, err := issuer.IssueToken(&models.User{GUID: "abc", AuthType: models.AuthAgencyUser})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour, nil)
	_, err := ts.ValidateAccessToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenRejectsNonHMAC(t *testing.T) {
	// Tokens signed with "none" must never pass, whatever their claims say.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{GUID: "abc"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	ts := NewTokenService("test-secret", time.Hour, nil)
	_, err = ts.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	ts := NewTokenService("test-secret", -time.Minute, nil)
	signed, err := ts.IssueToken(&models.User{GUID: "abc", AuthType: models.AuthPublicUserID})
	require.NoError(t, err)

	_, err = ts.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
