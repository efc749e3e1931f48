// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package luks1

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDevicePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"empty path", "", ErrInvalidPath},
		{"relative path", "relative/path", ErrInvalidPath},
		{"path with dots", "../../../etc/passwd", ErrInvalidPath},
		{"absolute traversal", "/tmp/../etc/passwd", ErrInvalidPath},
		{"non-existent", "/nonexistent/device/path", ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateDevicePath(tt.path); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevicePath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "disk.img")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		if err := ValidateDevicePath(path); err != nil {
			t.Errorf("ValidateDevicePath(valid file) = %v, want nil", err)
		}
	})

	t.Run("dots inside a name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "disk..img")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		if err := ValidateDevicePath(path); err != nil {
			t.Errorf("ValidateDevicePath(%q) = %v, want nil", path, err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		if err := ValidateDevicePath(t.TempDir()); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidateDevicePath(directory) = %v, want %v", err, ErrInvalidPath)
		}
	})
}

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase []byte
		wantErr    error
	}{
		{"empty passphrase", []byte{}, ErrPassphraseTooShort},
		{"single byte", []byte("x"), nil},
		{"valid length", []byte("this-is-a-valid-passphrase"), nil},
		{"maximum length", make([]byte, MaxPassphraseLength), nil},
		{"too long", make([]byte, MaxPassphraseLength+1), ErrPassphraseTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePassphrase(tt.passphrase); err != tt.wantErr {
				t.Errorf("ValidatePassphrase() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Error("expected equal slices to compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Error("expected different slices to compare unequal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abcd")) {
		t.Error("expected different lengths to compare unequal")
	}
}

func TestCheckOverflow(t *testing.T) {
	if err := CheckOverflow(64, AFStripes); err != nil {
		t.Errorf("CheckOverflow(64, 4000) = %v, want nil", err)
	}
	if err := CheckOverflow(math.MaxInt, 2); err != ErrIntegerOverflow {
		t.Errorf("CheckOverflow(MaxInt, 2) = %v, want %v", err, ErrIntegerOverflow)
	}
	if err := CheckOverflow(-1, 2); err != nil {
		t.Errorf("CheckOverflow(-1, 2) = %v, want nil", err)
	}
}

func TestSafeConversions(t *testing.T) {
	if _, err := SafeUint64ToInt64(math.MaxUint64); err != ErrIntegerOverflow {
		t.Errorf("SafeUint64ToInt64(MaxUint64) = %v, want overflow", err)
	}
	if v, err := SafeUint64ToInt64(42); err != nil || v != 42 {
		t.Errorf("SafeUint64ToInt64(42) = %d, %v", v, err)
	}
	if _, err := SafeUint64ToInt(math.MaxUint64); err != ErrIntegerOverflow {
		t.Errorf("SafeUint64ToInt(MaxUint64) = %v, want overflow", err)
	}
	if _, err := SafeInt64ToUint64(-1); err != ErrIntegerOverflow {
		t.Errorf("SafeInt64ToUint64(-1) = %v, want overflow", err)
	}
	if v, err := SafeInt64ToUint64(7); err != nil || v != 7 {
		t.Errorf("SafeInt64ToUint64(7) = %d, %v", v, err)
	}
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, 4096), 0600); err != nil {
		t.Fatal(err)
	}

	first, err := OpenFileStorage(path, false)
	if err != nil {
		t.Fatalf("OpenFileStorage failed: %v", err)
	}

	// flock locks belong to the open file description, so a second open
	// in the same process conflicts
	if _, err := OpenFileStorage(path, false); !errors.Is(err, ErrStorageLocked) {
		t.Fatalf("Expected ErrStorageLocked for a second writer, got %v", err)
	}
	if _, err := OpenFileStorage(path, true); !errors.Is(err, ErrStorageLocked) {
		t.Fatalf("Expected ErrStorageLocked for a reader while writing, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r1, err := OpenFileStorage(path, true)
	if err != nil {
		t.Fatalf("OpenFileStorage read-only failed: %v", err)
	}
	defer r1.Close()
	r2, err := OpenFileStorage(path, true)
	if err != nil {
		t.Fatalf("Expected concurrent readers to share the lock, got %v", err)
	}
	defer r2.Close()
}

func TestFileLockReleaseNil(t *testing.T) {
	var l *FileLock
	if err := l.Release(); err != nil {
		t.Errorf("Release on nil lock = %v, want nil", err)
	}
}
