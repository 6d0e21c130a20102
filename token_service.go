package airlock

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims carries the password-stripped user record inside the token.
type UserClaims struct {
	jwt.RegisteredClaims
	User Record `json:"user"`
}

// TokenService implements TokenCodec over an RS256 key pair. It performs no
// I/O; key material is supplied by the caller, so the verifying party can be
// distinct from the issuer.
type TokenService struct {
	privateKey     *rsa.PrivateKey
	publicKey      *rsa.PublicKey
	expiration     time.Duration
	issuer         string
	passwordColumn string
	logger         Logger
}

var _ TokenCodec = (*TokenService)(nil)

// NewTokenService creates a TokenService from PEM-encoded key material.
func NewTokenService(privateKeyPEM, publicKeyPEM []byte, expiration time.Duration, passwordColumn string, logger Logger) (*TokenService, error) {
	if logger == nil {
		logger = defLogger{}
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &TokenService{
		privateKey:     privateKey,
		publicKey:      publicKey,
		expiration:     expiration,
		issuer:         "airlock",
		passwordColumn: passwordColumn,
		logger:         logger,
	}, nil
}

// CreateToken signs a token carrying the user record. The password column is
// removed before signing so a credential never leaves the gateway embedded in
// a token.
func (ts *TokenService) CreateToken(user Record) (string, error) {
	now := time.Now()
	claims := &UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiration)),
		},
		User: user.WithoutFields(ts.passwordColumn),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	signed, err := token.SignedString(ts.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// VerifyToken validates the signature and expiry and returns the embedded
// user record. There is no partial trust: any parse failure yields
// ErrInvalidToken.
func (ts *TokenService) VerifyToken(tokenString string) (Record, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			ts.logger.Error("TokenService verify encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.publicKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Record{}, fmt.Errorf("%w: token is expired", ErrInvalidToken)
		}
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService verify could not decode claims")
		return Record{}, ErrInvalidToken
	}

	return claims.User, nil
}
