// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
)

// clearBytes securely zeros a byte slice
func clearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// randomBytes fills a new buffer from the given CSPRNG
func randomBytes(random io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(random, b); err != nil {
		return nil, &CryptoError{Op: "random", Err: fmt.Errorf("failed to generate random bytes: %w", err)}
	}
	return b, nil
}

// divRoundUp returns ceil(n / d)
func divRoundUp(n, d uint64) uint64 {
	return (n + d - 1) / d
}

// alignTo aligns a value to the nearest multiple of alignment
func alignTo(value, alignment uint64) uint64 {
	if value%alignment == 0 {
		return value
	}
	return ((value / alignment) + 1) * alignment
}

// cString returns the contents of a NUL padded header field
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// xorBytes XORs two byte slices into dest
func xorBytes(a, b, dest []byte) {
	for i := range dest {
		dest[i] = a[i] ^ b[i]
	}
}
