// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package luks1

import "errors"

var errNoKeyring = errors.New("kernel keyring is only available on linux")

// KeyringSecrets is unavailable on this platform
type KeyringSecrets struct{}

func (KeyringSecrets) LookupSecret(string) ([]byte, error) {
	return nil, errNoKeyring
}

func AddKeyringSecret(string, []byte) (int, error) {
	return 0, errNoKeyring
}

func RemoveKeyringSecret(int) error {
	return errNoKeyring
}
