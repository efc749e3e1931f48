// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Passphrase limits enforced by the device level API
const (
	MinPassphraseLength = 1
	MaxPassphraseLength = 512
)

// Validation errors
var (
	ErrInvalidPath        = fmt.Errorf("%w: invalid device path", ErrConfiguration)
	ErrPassphraseTooShort = fmt.Errorf("%w: passphrase is empty", ErrConfiguration)
	ErrPassphraseTooLong  = fmt.Errorf("%w: passphrase too long (maximum 512 bytes)", ErrConfiguration)
	ErrIntegerOverflow    = errors.New("integer overflow detected")
)

// cleanDevicePath rejects relative paths and traversal attempts
func cleanDevicePath(device string) (string, error) {
	if device == "" {
		return "", ErrInvalidPath
	}
	if !filepath.IsAbs(device) {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(filepath.ToSlash(device), "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	return filepath.Clean(device), nil
}

// ValidateDevicePath validates a device path for security. The path must
// be absolute and name an existing regular file or block device.
func ValidateDevicePath(device string) error {
	cleaned, err := cleanDevicePath(device)
	if err != nil {
		return err
	}

	info, err := os.Stat(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			return &DeviceError{Device: device, Op: "stat", Err: ErrDeviceNotFound}
		}
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	mode := info.Mode()
	if !mode.IsRegular() && (mode&os.ModeDevice == 0) {
		return ErrInvalidPath
	}
	return nil
}

// ValidatePassphrase validates passphrase length
func ValidatePassphrase(passphrase []byte) error {
	if len(passphrase) < MinPassphraseLength {
		return ErrPassphraseTooShort
	}
	if len(passphrase) > MaxPassphraseLength {
		return ErrPassphraseTooLong
	}
	return nil
}

// ConstantTimeEqual compares two byte slices in constant time
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CheckOverflow checks if a*b would overflow
func CheckOverflow(a, b int) error {
	if a > 0 && b > 0 && a > math.MaxInt/b {
		return ErrIntegerOverflow
	}
	return nil
}

// FileLock holds an advisory flock on an open file
type FileLock struct {
	file *os.File
}

// AcquireFileLock takes a non-blocking flock on f. Exclusive locks guard
// mutating operations; shared locks allow concurrent readers.
func AcquireFileLock(f *os.File, exclusive bool) (*FileLock, error) {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil { // #nosec G115 -- fd fits in int
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, &DeviceError{Device: f.Name(), Op: "lock", Err: ErrStorageLocked}
		}
		return nil, &DeviceError{Device: f.Name(), Op: "lock", Err: fmt.Errorf("failed to acquire lock: %w", err)}
	}
	return &FileLock{file: f}, nil
}

// Release releases the lock without closing the file
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN) // #nosec G115 -- fd fits in int
	l.file = nil
	return err
}

// SafeUint64ToInt64 converts uint64 to int64 safely, returning error on overflow
func SafeUint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrIntegerOverflow
	}
	return int64(v), nil
}

// SafeUint64ToInt converts uint64 to int safely, returning error on overflow
func SafeUint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, ErrIntegerOverflow
	}
	return int(v), nil
}

// SafeInt64ToUint64 converts int64 to uint64 safely, returning error on negative
func SafeInt64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, ErrIntegerOverflow
	}
	return uint64(v), nil
}
