// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package luks1

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// KeyringSecrets resolves secret identifiers to "user" keys in the kernel
// keyrings of the calling process, searched by description
type KeyringSecrets struct{}

// LookupSecret reads the payload of the user key named id
func (KeyringSecrets) LookupSecret(id string) ([]byte, error) {
	keyID, err := unix.RequestKey("user", id, "", 0)
	if err != nil {
		if errors.Is(err, unix.ENOKEY) {
			return nil, fmt.Errorf("%w: keyring has no key '%s'", ErrSecretNotFound, id)
		}
		return nil, fmt.Errorf("request_key %s: %w", id, err)
	}

	size, err := unix.KeyctlBuffer(unix.KEYCTL_READ, keyID, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("keyctl read %s: %w", id, err)
	}
	buf := make([]byte, size)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, keyID, buf, 0)
	if err != nil {
		clearBytes(buf)
		return nil, fmt.Errorf("keyctl read %s: %w", id, err)
	}
	return buf[:min(n, size)], nil
}

// AddKeyringSecret stores a secret as a user key in the session keyring
// and returns its serial
func AddKeyringSecret(id string, secret []byte) (int, error) {
	keyID, err := unix.AddKey("user", id, secret, unix.KEY_SPEC_SESSION_KEYRING)
	if err != nil {
		return 0, fmt.Errorf("add_key %s: %w", id, err)
	}
	return keyID, nil
}

// RemoveKeyringSecret unlinks a key from the session keyring
func RemoveKeyringSecret(keyID int) error {
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, keyID, unix.KEY_SPEC_SESSION_KEYRING, 0, 0); err != nil {
		return fmt.Errorf("keyctl unlink %d: %w", keyID, err)
	}
	return nil
}
