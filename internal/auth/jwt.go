package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmehdipour/tokengen/internal/apperr"
)

// Claims is what the identity provider signs for a session.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns HS256 bearer tokens into Actors.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates signature, expiry and (when configured) issuer.
func (v *Verifier) Verify(tokenStr string) (Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, apperr.Unauthorized("invalid or expired session")
	}
	if claims.Subject == "" {
		return Actor{}, apperr.Unauthorized("session has no subject")
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return Actor{}, apperr.Unauthorized(fmt.Sprintf("unknown role %q", claims.Role))
	}
	return Actor{UserID: claims.Subject, Role: role, Email: claims.Email}, nil
}

// Sign issues a session token. The identity provider owns sessions in production;
// this is used by tests and local tooling.
func (v *Verifier) Sign(a Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  a.Role.String(),
		Email: a.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
