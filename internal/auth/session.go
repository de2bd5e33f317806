package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "lexintake"

type sessionClaims struct {
	SessionID string `json:"sid"`
	FirmID    string `json:"firm"`
	jwt.RegisteredClaims
}

// signSession produces the HS256 cookie token for a session row.
func signSession(secret []byte, s Session) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: session secret not configured")
	}
	claims := sessionClaims{
		SessionID: s.ID,
		FirmID:    s.FirmID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseSession verifies the signature, issuer and expiry of token.
func parseSession(secret []byte, token string, now time.Time) (SessionUser, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return SessionUser{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.SessionID == "" || claims.Subject == "" || claims.FirmID == "" {
		return SessionUser{}, ErrInvalidSession
	}
	return SessionUser{SessionID: claims.SessionID, UserID: claims.Subject, FirmID: claims.FirmID}, nil
}

func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
