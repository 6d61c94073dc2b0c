// Package auth verifies the shared dispatch password compute nodes present
// on the auth frame.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/vortexdock/pkg/store"
)

// ErrNoPasswordSet is returned by Verify when the server has never had a
// password configured. Every auth attempt is rejected in this state —
// there is no implicit "wide open until configured" mode.
var ErrNoPasswordSet = errors.New("auth: no password has been set")

// Authenticator checks a candidate password against the hash currently
// stored by an admin via SetPassword.
type Authenticator struct {
	store store.Store
}

func New(s store.Store) *Authenticator {
	return &Authenticator{store: s}
}

// Verify reports whether password matches the currently configured
// dispatch password. It returns ErrNoPasswordSet, not an authentication
// failure, when no password has ever been configured, so callers can
// distinguish "misconfigured server" from "wrong credentials" in logs.
func (a *Authenticator) Verify(password string) (bool, error) {
	hash, ok, err := a.store.LatestPasswordHash()
	if err != nil {
		return false, fmt.Errorf("auth: verify: %w", err)
	}
	if !ok {
		return false, ErrNoPasswordSet
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("auth: compare: %w", err)
	}
	return true, nil
}

// SetPassword hashes password with bcrypt and persists it as the new
// current dispatch password, superseding any previous one.
func SetPassword(s store.Store, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	return s.SetPassword(string(hash))
}
