package handlers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
)

const tokenSubject = "api"

var errNoKey = errors.New("no API key configured")

// IssueToken returns an HS256 token signed with key, valid for ttl.
func IssueToken(key string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errNoKey
	}
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		ID:        ksid.NewID().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// VerifyToken checks that s was issued with key and is still valid. Rotating
// the key invalidates every token.
func VerifyToken(key, s string) (*jwt.RegisteredClaims, error) {
	if key == "" {
		return nil, errNoKey
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(s, claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithSubject(tokenSubject))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
