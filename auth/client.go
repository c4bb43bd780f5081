// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth supplies bearer-token credentials for transports that
// establish their channel over an HTTP-adjacent handshake (currently just
// the WebSocket upgrade request). It has no knowledge of the Connection
// state machine: it only shapes the request used to stand up a Transport.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrUnauthorized is returned by a TokenSource when no credential is
// available and the caller must supply one out of band.
var ErrUnauthorized = errors.New("unauthorized")

// TokenSource is the credential contract a transport accepts. It is
// satisfied directly by oauth2.TokenSource.
type TokenSource interface {
	Token() (*oauth2.Token, error)
}

// JWTBearerTokenSource mints a short-lived bearer token signed with an HMAC
// key, for services that issue their own tokens rather than running a full
// OAuth exchange. Each call to Token re-signs a fresh token valid for TTL,
// so a transport that reconnects after a backoff cycle and redials always
// presents a non-expired token.
type JWTBearerTokenSource struct {
	// Key signs the token (HS256).
	Key []byte
	// Subject is the "sub" claim.
	Subject string
	// TTL is how long each minted token remains valid. Defaults to 5 minutes.
	TTL time.Duration
}

// Token implements TokenSource.
func (s *JWTBearerTokenSource) Token() (*oauth2.Token, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   s.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.Key)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      now.Add(ttl),
	}, nil
}
