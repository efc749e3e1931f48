// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"fmt"
	"unicode/utf8"
)

// ErrSecretNotFound indicates a secret identifier could not be resolved
var ErrSecretNotFound = fmt.Errorf("%w: secret not found", ErrConfiguration)

// SecretLookup resolves an opaque secret identifier to a password
type SecretLookup interface {
	LookupSecret(id string) ([]byte, error)
}

// SecretFunc adapts a function to SecretLookup
type SecretFunc func(id string) ([]byte, error)

func (f SecretFunc) LookupSecret(id string) ([]byte, error) {
	return f(id)
}

// SecretMap is an in-memory SecretLookup
type SecretMap map[string][]byte

// LookupSecret returns a copy of the named secret
func (m SecretMap) LookupSecret(id string) ([]byte, error) {
	s, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrSecretNotFound, id)
	}
	return append([]byte(nil), s...), nil
}

// lookupPassword resolves a secret and checks it is valid UTF-8. The
// caller owns the returned buffer and must clear it.
func lookupPassword(secrets SecretLookup, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrMissingSecret
	}
	if secrets == nil {
		return nil, configErrorf("no secret store to resolve '%s'", id)
	}
	pw, err := secrets.LookupSecret(id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up secret '%s': %w", id, err)
	}
	if !utf8.Valid(pw) {
		clearBytes(pw)
		return nil, configErrorf("secret '%s' is not valid UTF-8", id)
	}
	return pw, nil
}
