package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer          = "margin-calculator"
	tokenTypeAccess = "ACCESS"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type Claims struct {
	ClientID  string `json:"client_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer signs and validates access tokens for the pricing admin API.
type Issuer struct {
	key        []byte
	clientID   string
	secretHash []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewIssuer builds an Issuer. secretHash is the bcrypt hash of the client secret;
// an empty hash disables token issuance.
func NewIssuer(signingKey, clientID, secretHash string, ttl time.Duration) *Issuer {
	return &Issuer{
		key:        []byte(signingKey),
		clientID:   clientID,
		secretHash: []byte(secretHash),
		ttl:        ttl,
		now:        time.Now,
	}
}

// HashSecret produces the value expected in AUTH_SECRET_HASH. The pricing-hash
// command exposes it to operators.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate checks the client credentials and returns a signed access token.
func (i *Issuer) Authenticate(clientID, secret string) (string, error) {
	if len(i.secretHash) == 0 || clientID != i.clientID {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(i.secretHash, []byte(secret)); err != nil {
		return "", ErrInvalidCredentials
	}
	return i.GenerateAccessToken(clientID)
}

// GenerateAccessToken creates a short-lived access token.
func (i *Issuer) GenerateAccessToken(clientID string) (string, error) {
	now := i.now()
	claims := &Claims{
		ClientID:  clientID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// ValidateToken parses and verifies an access token.
func (i *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
