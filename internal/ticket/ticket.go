// Copyright 2026 The MakeMeAdmin CLI Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ticket mints and verifies the short-lived signed tokens the exec
// bridge requires before launching a program on behalf of a granted caller.
// The signing key lives in the broker state directory, readable by root
// only; the bridge runs with enough privilege to read it back.
package ticket

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const keySize = 32

var ErrInvalidTicket = errors.New("ticket: invalid or expired")

// Claims is the verified content of an exec ticket.
type Claims struct {
	Identity  string
	Program   string
	ExpiresAt time.Time
}

// Service signs and verifies exec tickets with a shared HMAC key.
type Service struct {
	key []byte
	now func() time.Time
}

func NewService(key []byte) *Service {
	return &Service{key: key, now: time.Now}
}

// LoadOrCreateKey reads the signing key, generating one on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil && len(key) == keySize {
		return key, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ticket: read key: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ticket: generate key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("ticket: write key: %w", err)
	}
	return key, nil
}

// Mint issues a ticket for one program launch, valid until the caller's
// grant expires.
func (s *Service) Mint(identityName, program string, expiresAt time.Time) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": identityName,
		"prg": program,
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("ticket: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry, returning the embedded claims.
func (s *Service) Verify(raw string) (*Claims, error) {
	token, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidTicket
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidTicket
	}
	sub, _ := claims["sub"].(string)
	prg, _ := claims["prg"].(string)
	exp, err := claims.GetExpirationTime()
	if sub == "" || prg == "" || err != nil || exp == nil {
		return nil, ErrInvalidTicket
	}
	return &Claims{Identity: sub, Program: prg, ExpiresAt: exp.Time}, nil
}
