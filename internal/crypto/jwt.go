package crypto

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "gatekeep"
	tokenAudience = "gatekeep-api"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims represents the JWT claims for gatekeep authentication.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. defaultTTL is used when Issue is
// called with a non-positive ttl.
func NewTokenIssuer(secret string, defaultTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Issue creates a signed token carrying the user's identity.
func (i *TokenIssuer) Issue(userID int64, email string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a token string, returning the claims if valid.
// Every failure is reported as ErrInvalidToken.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
