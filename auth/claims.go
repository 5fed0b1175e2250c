package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names checked, in order, for the user id.
var userIDClaims = []string{
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
	"nameid",
	"userId",
	"sub",
}

// Claims is what the client needs from an access token.
type Claims struct {
	UserID string
	Expiry time.Time
}

// DecodeClaims reads the access token's claims without verifying the
// signature.
func DecodeClaims(accessToken string) (Claims, error) {
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, mapClaims); err != nil {
		return Claims{}, fmt.Errorf("failed to decode access token: %w", err)
	}

	var claims Claims
	exp, err := mapClaims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("invalid expiry claim: %w", err)
	}
	if exp != nil {
		claims.Expiry = exp.Time
	}

	for _, name := range userIDClaims {
		switch v := mapClaims[name].(type) {
		case string:
			if v != "" {
				claims.UserID = v
			}
		case float64:
			claims.UserID = fmt.Sprintf("%.0f", v)
		}
		if claims.UserID != "" {
			break
		}
	}
	return claims, nil
}
