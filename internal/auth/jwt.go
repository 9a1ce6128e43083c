package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/permission"
)

// TokenType defines the JWT token type.
type TokenType string

// Token types.
const (
	AccessToken  TokenType = "ACCESS"
	RefreshToken TokenType = "REFRESH"
)

const signingAlgorithm = "HS256"

// Payload holds the DeviceHive specific JWT claims.
type Payload struct {
	UserID        int64               `json:"userId"`
	Actions       []permission.Action `json:"actions"`
	NetworkIDs    *permission.IDSet   `json:"networkIds,omitempty"`
	DeviceTypeIDs *permission.IDSet   `json:"deviceTypeIds,omitempty"`
	DeviceGUIDs   *permission.GUIDSet `json:"deviceIds,omitempty"`
	TokenType     TokenType           `json:"tokenType,omitempty"`
	Expiration    *time.Time          `json:"expiration,omitempty"`
}

// Permission returns the permission granted by the payload.
func (p Payload) Permission() permission.Permission {
	return permission.Permission{
		Actions:       p.Actions,
		NetworkIDs:    p.NetworkIDs,
		DeviceTypeIDs: p.DeviceTypeIDs,
		DeviceGUIDs:   p.DeviceGUIDs,
	}
}

// Claims define the struct containing the token claims.
type Claims struct {
	jwt.RegisteredClaims

	Payload Payload `json:"payload"`
}

// TokenPair holds an access and a refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// JWTService signs and validates JWT tokens.
type JWTService struct {
	secret          []byte
	accessLifetime  time.Duration
	refreshLifetime time.Duration
}

// NewJWTService creates a new JWTService.
func NewJWTService(secret string, accessLifetime, refreshLifetime time.Duration) *JWTService {
	return &JWTService{
		secret:          []byte(secret),
		accessLifetime:  accessLifetime,
		refreshLifetime: refreshLifetime,
	}
}

// Sign returns a signed token of the given type for the payload. When the
// payload has no expiration, the configured lifetime is used.
func (s *JWTService) Sign(p Payload, typ TokenType) (string, error) {
	p.TokenType = typ
	if p.Expiration == nil {
		lifetime := s.accessLifetime
		if typ == RefreshToken {
			lifetime = s.refreshLifetime
		}
		exp := time.Now().Add(lifetime).UTC().Truncate(time.Second)
		p.Expiration = &exp
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(*p.Expiration),
		},
		Payload: p,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token error")
	}
	return ss, nil
}

// SignPair returns an access and a refresh token for the payload. The
// expiration of the payload applies to the access token only.
func (s *JWTService) SignPair(p Payload) (TokenPair, error) {
	var pair TokenPair
	var err error

	pair.AccessToken, err = s.Sign(p, AccessToken)
	if err != nil {
		return pair, err
	}

	p.Expiration = nil
	pair.RefreshToken, err = s.Sign(p, RefreshToken)
	if err != nil {
		return pair, err
	}
	return pair, nil
}

// Parse validates the token and returns its payload.
func (s *JWTService) Parse(tokenStr string) (Payload, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Header["alg"] != signingAlgorithm {
			return nil, ErrInvalidAlgorithm
		}
		return s.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return Payload{}, ErrTokenExpired
		}
		return Payload{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Payload{}, ErrInvalidToken
	}

	switch claims.Payload.TokenType {
	case AccessToken, RefreshToken:
	default:
		return Payload{}, ErrInvalidToken
	}

	return claims.Payload, nil
}

// ParseAccess validates the token and requires it to be an access token.
func (s *JWTService) ParseAccess(tokenStr string) (Payload, error) {
	p, err := s.Parse(tokenStr)
	if err != nil {
		return p, err
	}
	if p.TokenType != AccessToken {
		return Payload{}, ErrInvalidTokenType
	}
	return p, nil
}

// ParseRefresh validates the token and requires it to be a refresh token.
func (s *JWTService) ParseRefresh(tokenStr string) (Payload, error) {
	p, err := s.Parse(tokenStr)
	if err != nil {
		return p, err
	}
	if p.TokenType != RefreshToken {
		return Payload{}, ErrInvalidTokenType
	}
	return p, nil
}
