package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateTTL bounds how long a user has to complete the authorize step.
const stateTTL = 30 * time.Minute

// State is carried through the authorize redirect to tie the callback back
// to the flow that started it.
type State struct {
	FlowID      string `json:"flow_id"`
	RedirectURI string `json:"redirect_uri"`
	// EntryID is set when re-authenticating an existing entry.
	EntryID string `json:"entry_id,omitempty"`
}

type stateClaims struct {
	State
	jwt.RegisteredClaims
}

// EncodeState signs s so it can be used as the OAuth state parameter.
func (c *Config) EncodeState(s State, now time.Time) (string, error) {
	key, err := c.stateKey()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		State: s,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// DecodeState verifies and decodes a state parameter produced by EncodeState.
func (c *Config) DecodeState(raw string) (State, error) {
	key, err := c.stateKey()
	if err != nil {
		return State{}, err
	}
	var claims stateClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return State{}, fmt.Errorf("invalid state: %w", err)
	}
	if claims.FlowID == "" {
		return State{}, errors.New("invalid state: missing flow id")
	}
	return claims.State, nil
}
