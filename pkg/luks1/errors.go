// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"errors"
	"fmt"
)

// Error classes that can be checked using errors.Is()
var (
	// ErrInvalidHeader indicates a LUKS header is invalid or corrupted
	ErrInvalidHeader = errors.New("invalid LUKS header")

	// ErrConfiguration indicates an unsupported or malformed algorithm
	// selection or option value
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidPassphrase indicates no key slot accepted the passphrase
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrIO indicates a read, write or storage reservation failure
	ErrIO = errors.New("i/o error")

	// ErrCrypto indicates a hash, cipher, KDF or RNG failure
	ErrCrypto = errors.New("crypto failure")

	// ErrPolicy indicates a refused key slot operation
	ErrPolicy = errors.New("operation refused")
)

// Specific errors, each wrapping one of the classes above
var (
	ErrUnsupportedCipher = fmt.Errorf("%w: unsupported cipher", ErrConfiguration)
	ErrUnsupportedMode   = fmt.Errorf("%w: unsupported cipher mode", ErrConfiguration)
	ErrUnsupportedIVGen  = fmt.Errorf("%w: unsupported IV generator", ErrConfiguration)
	ErrUnsupportedHash   = fmt.Errorf("%w: unsupported hash algorithm", ErrConfiguration)
	ErrMissingSecret     = fmt.Errorf("%w: key secret is required", ErrConfiguration)
	ErrUnaligned         = fmt.Errorf("%w: request is not sector aligned", ErrConfiguration)
	ErrNoKeyMaterial     = fmt.Errorf("%w: volume was opened without key material", ErrConfiguration)

	ErrInvalidKeyslot = fmt.Errorf("%w: invalid keyslot", ErrPolicy)
	ErrNoFreeKeyslot  = fmt.Errorf("%w: all keyslots are in use", ErrPolicy)

	ErrDeviceNotFound = fmt.Errorf("%w: device not found", ErrIO)
	ErrStorageLocked  = fmt.Errorf("%w: storage is locked by another process", ErrIO)

	ErrVolumeNotActive     = errors.New("volume not active")
	ErrVolumeAlreadyActive = errors.New("volume already active")
)

// IOError represents a failed storage callback
type IOError struct {
	Op     string
	Offset int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports the error as belonging to the ErrIO class
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// CryptoError represents an error in cryptographic operations
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is reports the error as belonging to the ErrCrypto class
func (e *CryptoError) Is(target error) bool {
	return target == ErrCrypto
}

// KeyslotError represents an error related to a keyslot operation
type KeyslotError struct {
	Keyslot int
	Op      string
	Err     error
}

func (e *KeyslotError) Error() string {
	return fmt.Sprintf("%s keyslot %d: %v", e.Op, e.Keyslot, e.Err)
}

func (e *KeyslotError) Unwrap() error {
	return e.Err
}

// DeviceError represents an error related to a specific device
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func headerErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidHeader}, args...)...)
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

func policyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPolicy}, args...)...)
}
