package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

// Token verification failures, distinguished so the HTTP layer can tell the
// caller what went wrong without leaking verification internals.
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenInvalid   = errors.New("invalid token")
)

// Claims is the verified identity extracted from a bearer token.
type Claims struct {
	Subject string
	Roles   []string
	Expiry  time.Time
}

// Verifier issues and verifies HMAC-signed bearer tokens. It accepts any
// HMAC variant on verification (the ticket backend signs with HS384 or
// HS512) and signs with HS512, matching that backend's format.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a Verifier with the shared HMAC secret and the token
// lifetime used at issuance.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// IssueToken signs a token for the subject with the standard sub/iat/exp
// claims plus the subject's roles.
func (v *Verifier) IssueToken(subject string, roles []string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":   subject,
		"iat":   now.Unix(),
		"exp":   now.Add(v.ttl).Unix(),
		"roles": roles,
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims. The
// error is one of ErrTokenExpired, ErrTokenMalformed, or ErrTokenInvalid.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, ErrTokenMalformed
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				return nil, ErrTokenExpired
			}
		}
		return nil, ErrTokenInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	subject, ok := mapClaims["sub"].(string)
	if !ok || subject == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{Subject: subject}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.Expiry = time.Unix(int64(exp), 0)
	}
	if rawRoles, ok := mapClaims["roles"].([]interface{}); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				claims.Roles = append(claims.Roles, role)
			}
		}
	}
	return claims, nil
}
