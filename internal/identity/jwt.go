package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT reads the exp claim of token without verifying its signature.
// Opaque ArcGIS tokens are not JWTs and yield the zero time.
func expiryFromJWT(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
