package authx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience marks tokens that are only good for the agent's control API
const Audience = "geotrack-control"

var ErrEmptySubject = errors.New("subject must not be empty")

// JWTClaims identify the host application calling the control API
type JWTClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues and checks HS256 control API tokens
type JWTService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
	parser    *jwt.Parser
}

func NewJWTService(secretKey string, issuer string, ttl time.Duration) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(Audience),
			jwt.WithExpirationRequired(),
		),
	}
}

// GenerateToken issues a token for the host application identified by subject
func (s *JWTService) GenerateToken(subject, name string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	now := time.Now()
	claims := JWTClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

func (s *JWTService) keyFunc(*jwt.Token) (interface{}, error) {
	return s.secretKey, nil
}

// ValidateToken checks signature, issuer, audience and expiry
func (s *JWTService) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	if _, err := s.parser.ParseWithClaims(tokenString, claims, s.keyFunc); err != nil {
		return nil, err
	}
	return claims, nil
}
