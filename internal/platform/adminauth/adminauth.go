// Package adminauth issues and validates the HS256 bearer tokens that guard
// administrative endpoints.
package adminauth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "attendguard/pkg/domain-errors"
)

const roleAdmin = "admin"

// Claims are the claims carried by an admin token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates admin tokens with a shared key.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewService(signingKey, issuer, audience string) (*Service, error) {
	if signingKey == "" {
		return nil, errors.New("admin signing key is required")
	}
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// IssueAdminToken signs a token for subject valid for ttl from now.
func (s *Service) IssueAdminToken(subject string, now time.Time, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign admin token")
	}
	return signed, nil
}

// ValidateAdmin verifies signature, expiry, issuer, audience and role and
// returns the token subject.
func (s *Service) ValidateAdmin(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Role != roleAdmin || claims.Subject == "" {
		return "", dErrors.New(dErrors.CodeForbidden, "token does not grant admin access")
	}
	return claims.Subject, nil
}
