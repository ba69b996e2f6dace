// Package auth issues and validates the JWT bearer tokens the HTTP surface
// runs on, and hashes portal-account passwords.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/foilportal/pkg/models"
)

// ErrInvalidToken covers malformed, expired, and wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrInvalidCredentials is returned on a failed password check.
var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTClaims carries the composite user identity inside a token.
type JWTClaims struct {
	GUID         string `json:"guid"`
	AuthUserType string `json:"auth_user_type"`
	jwt.RegisteredClaims
}

// TokenService signs and validates access tokens.
type TokenService struct {
	secretKey []byte
	ttl       time.Duration
	db        *sql.DB
}

// NewTokenService creates a new token service
func NewTokenService(secret string, ttl time.Duration, db *sql.DB) *TokenService {
	return &TokenService{secretKey: []byte(secret), ttl: ttl, db: db}
}

// IssueToken mints an access token for a user.
func (ts *TokenService) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		GUID:         user.GUID,
		AuthUserType: string(user.AuthType),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.CompositeID(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses a token and resolves the user it names. A
// token whose user no longer exists is invalid, never coerced to a
// default identity.
func (ts *TokenService) ValidateAccessToken(tokenString string) (*models.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	user := &models.User{}
	err = ts.db.QueryRow(`
		SELECT guid, auth_user_type, agency_ein, email, notification_email, first_name, last_name,
		       is_super, is_agency_active, is_agency_admin, is_anonymous_requester
		FROM users WHERE guid = $1 AND auth_user_type = $2
	`, claims.GUID, claims.AuthUserType).Scan(
		&user.GUID, &user.AuthType, &user.AgencyEIN, &user.Email, &user.NotificationEmail,
		&user.FirstName, &user.LastName,
		&user.IsSuper, &user.IsAgencyActive, &user.IsAgencyAdmin, &user.IsAnonymousRequester,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to resolve token user: %w", err)
	}
	return user, nil
}

// HashPassword hashes a portal-account password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against its stored hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
