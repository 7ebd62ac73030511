package qauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ExpirySkew is how long before its real expiry a token is treated as stale.
const ExpirySkew = 30 * time.Second

// AccessClaims is the display view of a platform access token payload.
// Parsed without verification: do not use it for authorization decisions.
type AccessClaims struct {
	ClientID string
	UserID   string
	Scopes   []string
	Iss      string
	Aud      string
	Iat      int64
	Exp      int64
}

// ParseTokenClaims extracts raw claims from a JWT without verifying its
// signature. Numeric timestamps come back as float64.
func ParseTokenClaims(tokenStr string) (jwt.MapClaims, error) {
	var claims jwt.MapClaims
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(tokenStr, &claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// FromAccessToken maps an unverified access token into AccessClaims.
func FromAccessToken(tokenStr string) (*AccessClaims, error) {
	mc, err := ParseTokenClaims(tokenStr)
	if err != nil {
		return nil, err
	}

	ac := &AccessClaims{}
	if v, ok := mc["client_id"].(string); ok {
		ac.ClientID = v
	}
	if v, ok := mc["userid"].(string); ok {
		ac.UserID = v
	}
	if v, ok := mc["iss"].(string); ok {
		ac.Iss = v
	}

	switch v := mc["aud"].(type) {
	case string:
		ac.Aud = v
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		ac.Aud = strings.Join(parts, " ")
	}

	switch v := mc["scope"].(type) {
	case string:
		ac.Scopes = strings.Fields(v)
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				ac.Scopes = append(ac.Scopes, str)
			}
		}
	}

	ac.Iat = numericClaim(mc["iat"])
	ac.Exp = numericClaim(mc["exp"])
	return ac, nil
}

func numericClaim(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// TokenFromAccessToken wraps a raw access token, e.g. one pasted into config,
// taking its expiry from the JWT payload when it has one.
func TokenFromAccessToken(accessToken string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if ac, err := FromAccessToken(accessToken); err == nil && ac.Exp > 0 {
		tok.Expiry = time.Unix(ac.Exp, 0)
	}
	return tok
}

// Fresh reports whether tok can be used at now, honoring ExpirySkew. Tokens
// without an expiry are always fresh.
func Fresh(tok *oauth2.Token, now time.Time) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return now.Before(tok.Expiry.Add(-ExpirySkew))
}

// fillExpiry derives Expiry from the JWT payload when the token endpoint
// omitted expires_in.
func fillExpiry(tok *oauth2.Token) *oauth2.Token {
	if tok == nil || !tok.Expiry.IsZero() {
		return tok
	}
	if ac, err := FromAccessToken(tok.AccessToken); err == nil && ac.Exp > 0 {
		tok.Expiry = time.Unix(ac.Exp, 0)
	}
	return tok
}
