package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type principalClaims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"uid"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms,omitempty"`
	Hierarchy   int      `json:"hier"`
	TokenType   string   `json:"type"`
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	signingKey  []byte
	issuer      string
	expiryHours int
	now         func() time.Time
}

func NewTokenService(signingKey, issuer string, expiryHours int) *TokenService {
	return &TokenService{
		signingKey:  []byte(signingKey),
		issuer:      issuer,
		expiryHours: expiryHours,
		now:         time.Now,
	}
}

// CreateAccessToken signs a token carrying p. The token type is always access.
func (s *TokenService) CreateAccessToken(p *Principal) (string, error) {
	if p == nil || p.UserID == "" {
		return "", fmt.Errorf("%w: principal without user id", ErrTokenInvalid)
	}
	now := s.now()

	claims := principalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expiryHours) * time.Hour)),
		},
		UserID:      p.UserID,
		Role:        p.Role,
		Permissions: p.ExplicitPermissions,
		Hierarchy:   p.Hierarchy,
		TokenType:   TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

func (s *TokenService) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &principalClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*principalClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}

	return &Principal{
		UserID:              claims.UserID,
		Role:                claims.Role,
		ExplicitPermissions: claims.Permissions,
		Hierarchy:           claims.Hierarchy,
		TokenType:           claims.TokenType,
	}, nil
}
