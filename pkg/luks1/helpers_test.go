// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package luks1

import (
	"crypto/sha256"
	"io"
	"testing"
	"time"

	drbg "github.com/canonical/go-sp800.90a-drbg"
)

// testRate makes slot keys use 2000 PBKDF2 iterations and the master key
// verifier the 1000 iteration floor under the default 2s budget
const testRate = 1000

// fixedRateKDF is a KeyDerivation with real PBKDF2 output and a constant
// calibration result
type fixedRateKDF struct {
	rate         uint64
	calibrateN   int
	deriveN      int
	calibrateErr error
}

func (k *fixedRateKDF) Derive(hashAlg HashAlgorithm, password, salt []byte, iterations uint64, keyLen int) ([]byte, error) {
	k.deriveN++
	return DeriveKey(hashAlg, password, salt, iterations, keyLen)
}

func (k *fixedRateKDF) Calibrate(hashAlg HashAlgorithm, _, _ []byte, _ int) (uint64, error) {
	k.calibrateN++
	if k.calibrateErr != nil {
		return 0, k.calibrateErr
	}
	if !hashAlg.Available() {
		return 0, ErrUnsupportedHash
	}
	return k.rate, nil
}

func newTestKDF() *fixedRateKDF {
	return &fixedRateKDF{rate: testRate}
}

// newTestRNG returns a deterministic CSPRNG seeded from name
func newTestRNG(t *testing.T, name string) io.Reader {
	t.Helper()
	seed := sha256.Sum256([]byte(name))
	rng, err := drbg.NewCTRWithExternalEntropy(32, seed[:], []byte("nonce"), []byte("luks1-test"), nil)
	if err != nil {
		t.Fatalf("Failed to create DRBG: %v", err)
	}
	return rng
}

// failingReader returns err after n successful bytes
type failingReader struct {
	n   int
	err error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, r.err
	}
	n := min(len(p), r.n)
	clear(p[:n])
	r.n -= n
	return n, nil
}

// testSecrets holds the passwords used by volume tests
func testSecrets() SecretMap {
	return SecretMap{
		"p1":    []byte("p1"),
		"p2":    []byte("p2"),
		"p3":    []byte("correct horse battery staple"),
		"wrong": []byte("not-a-password"),
	}
}

// createTestVolume formats an in-memory volume with password "p1"
func createTestVolume(t *testing.T, opts CreateOptions) (*Volume, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage()
	_, write, init := StorageFuncs(storage)

	if opts.KeySecret == "" {
		opts.KeySecret = "p1"
	}
	if opts.Secrets == nil {
		opts.Secrets = testSecrets()
	}
	if opts.KDF == nil {
		opts.KDF = newTestKDF()
	}

	v, err := Create(opts, init, write)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(v.Close)
	return v, storage
}

// openTestVolume opens storage with the given secret
func openTestVolume(t *testing.T, storage *MemoryStorage, secret string) (*Volume, error) {
	t.Helper()
	read, _, _ := StorageFuncs(storage)
	return Open(OpenOptions{
		KeySecret: secret,
		Secrets:   testSecrets(),
		KDF:       newTestKDF(),
	}, read, 0)
}

// mockTimeExecution makes calibration report cost per iteration of
// thread CPU time
func mockTimeExecution(t *testing.T, cost time.Duration) {
	t.Helper()
	orig := timeExecution
	timeExecution = func(hashAlg HashAlgorithm, _, _ []byte, iterations uint64, _ int) (time.Duration, error) {
		if !hashAlg.Available() {
			return 0, ErrUnsupportedHash
		}
		return time.Duration(iterations) * cost, nil
	}
	t.Cleanup(func() { timeExecution = orig })
}
