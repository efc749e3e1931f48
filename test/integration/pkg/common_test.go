// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build integration

package pkg_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeremyhahn/go-luks1/pkg/luks1"
)

const testIterTime = 50 * time.Millisecond

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("dm-crypt tests require root")
	}
}

// testCleanup removes a mapping left behind by a failed test. The loop
// device Activate attached clears itself once the mapping is gone.
func testCleanup(volumeName string) {
	_ = luks1.Deactivate(volumeName)

	// Wait for device mapper to settle
	for i := 0; i < 30; i++ {
		if !luks1.IsActive(volumeName) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// createTestFile creates a sparse image file of the given size
func createTestFile(t *testing.T, name string, sizeMB int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(sizeMB) << 20); err != nil {
		t.Fatalf("Failed to size test file: %v", err)
	}
	return path
}

// formatTestFile creates and formats an image file
func formatTestFile(t *testing.T, name string, passphrase []byte, opts luks1.FormatOptions) string {
	t.Helper()
	path := createTestFile(t, name, 8)

	opts.Device = path
	opts.Passphrase = passphrase
	if opts.IterTime == 0 {
		opts.IterTime = testIterTime
	}
	if _, err := luks1.Format(opts); err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	return path
}

// waitForActive waits for a mapping to appear
func waitForActive(volumeName string, timeoutMs int) bool {
	for i := 0; i < timeoutMs/100; i++ {
		if luks1.IsActive(volumeName) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// waitForInactive waits for a mapping to disappear
func waitForInactive(volumeName string, timeoutMs int) bool {
	for i := 0; i < timeoutMs/100; i++ {
		if !luks1.IsActive(volumeName) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
