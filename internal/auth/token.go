package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when a token is required but absent.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrCallMismatch is returned when the token was issued for another call.
	ErrCallMismatch = errors.New("auth: token subject does not match call")
)

// SocketClaims are the claims carried by a socket token. The subject is the
// call correlation id the token was issued for.
type SocketClaims struct {
	jwt.RegisteredClaims
}

// IssueSocketToken signs an HS256 token for callID valid for ttl.
func IssueSocketToken(secret, callID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SocketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifySocketToken checks tokenString against secret. When callID is not
// empty the token subject must equal it.
func VerifySocketToken(secret, tokenString, callID string) error {
	if tokenString == "" {
		return ErrMissingToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenString, &SocketClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*SocketClaims)
	if !ok || !token.Valid {
		return errors.New("auth: invalid token claims")
	}
	if callID != "" && claims.Subject != callID {
		return ErrCallMismatch
	}
	return nil
}
