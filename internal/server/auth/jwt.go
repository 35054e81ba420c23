// Package auth holds the stateless credential primitives: password hashing,
// keyed hashing of opaque tokens, and signing/verification of access tokens.
// Nothing here touches storage or the network.
package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrVerifyOnly is returned by Issue on an issuer built without a private key.
var ErrVerifyOnly = errors.New("access token issuer has no signing key")

// Claims is the access token payload: the registered claims plus the user
// identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Email  string `json:"email"`
}

// AccessToken is a freshly minted bearer token and the claims it carries.
type AccessToken struct {
	Token     string
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuerOption customizes an AccessTokenIssuer.
type IssuerOption func(*AccessTokenIssuer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *AccessTokenIssuer) { i.now = now }
}

// WithLogger sets where rejected tokens are reported.
func WithLogger(l logging.Logger) IssuerOption {
	return func(i *AccessTokenIssuer) { i.logger = l }
}

// AccessTokenIssuer signs and verifies short-lived JWTs with an asymmetric
// key pair. It is safe for concurrent use.
type AccessTokenIssuer struct {
	signKey   crypto.PrivateKey
	verifyKey crypto.PublicKey
	method    jwt.SigningMethod
	issuer    string
	audience  string
	ttl       time.Duration
	now       func() time.Time
	logger    logging.Logger
}

// NewAccessTokenIssuer builds an issuer from an Ed25519, RSA or ECDSA private
// key. publicKey may be nil, in which case it is derived from privateKey.
func NewAccessTokenIssuer(privateKey crypto.PrivateKey, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration, opts ...IssuerOption) (*AccessTokenIssuer, error) {
	if privateKey == nil {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive, got %s", ttl)
	}
	if publicKey == nil {
		signer, ok := privateKey.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported signing key type %T", privateKey)
		}
		publicKey = signer.Public()
	}

	i, err := newIssuer(publicKey, issuer, audience, opts)
	if err != nil {
		return nil, err
	}

	method, err := signingMethodFor(privateKey)
	if err != nil {
		return nil, err
	}
	if method.Alg() != i.method.Alg() {
		return nil, fmt.Errorf("signing key (%s) and verification key (%s) do not match", method.Alg(), i.method.Alg())
	}

	i.signKey = privateKey
	i.ttl = ttl
	return i, nil
}

// NewAccessTokenVerifier builds a verify-only issuer from a public key.
func NewAccessTokenVerifier(publicKey crypto.PublicKey, issuer, audience string, opts ...IssuerOption) (*AccessTokenIssuer, error) {
	if publicKey == nil {
		return nil, errors.New("verification key is required")
	}
	return newIssuer(publicKey, issuer, audience, opts)
}

func newIssuer(publicKey crypto.PublicKey, issuer, audience string, opts []IssuerOption) (*AccessTokenIssuer, error) {
	if issuer == "" || audience == "" {
		return nil, errors.New("issuer and audience are required")
	}

	method, err := signingMethodFor(publicKey)
	if err != nil {
		return nil, err
	}

	i := &AccessTokenIssuer{
		verifyKey: publicKey,
		method:    method,
		issuer:    issuer,
		audience:  audience,
		now:       time.Now,
		logger:    logging.Nop{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL is the lifetime given to newly issued tokens.
func (i *AccessTokenIssuer) TTL() time.Duration { return i.ttl }

// Issue mints a token for the user, valid from now for the configured TTL.
func (i *AccessTokenIssuer) Issue(userID, email string) (*AccessToken, error) {
	if i.signKey == nil {
		return nil, ErrVerifyOnly
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		UserID: userID,
		Email:  email,
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &AccessToken{
		Token:     signed,
		UserID:    userID,
		Email:     email,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, algorithm, issuer, audience and time claims.
// Every failure yields common.ErrInvalidToken; the reason is only logged.
func (i *AccessTokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.verifyKey, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err == nil && (!token.Valid || claims.UserID == "") {
		err = errors.New("token carries no user")
	}
	if err != nil {
		i.logger.Debug(context.Background(), "access token rejected", "error", err)
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

func signingMethodFor(key any) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case ed25519.PrivateKey, ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	case *rsa.PrivateKey, *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		return ecdsaMethod(k.Curve)
	case *ecdsa.PublicKey:
		return ecdsaMethod(k.Curve)
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

func ecdsaMethod(c elliptic.Curve) (jwt.SigningMethod, error) {
	switch c {
	case elliptic.P256():
		return jwt.SigningMethodES256, nil
	case elliptic.P384():
		return jwt.SigningMethodES384, nil
	case elliptic.P521():
		return jwt.SigningMethodES512, nil
	default:
		return nil, fmt.Errorf("unsupported ecdsa curve %s", c.Params().Name)
	}
}
