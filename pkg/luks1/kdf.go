// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	calibrateStartIterations = 1 << 15
	calibrateMinDuration     = 100 * time.Millisecond
	calibrateTargetDuration  = 250 * time.Millisecond
	calibrateMaxScale        = 16
	calibrateMaxRounds       = 20
)

// KeyDerivation derives password based keys and calibrates how many
// iterations fit into a time budget
type KeyDerivation interface {
	// Derive returns keyLen bytes of PBKDF2 output
	Derive(hashAlg HashAlgorithm, password, salt []byte, iterations uint64, keyLen int) ([]byte, error)

	// Calibrate returns the number of iterations the host completes per
	// second of thread CPU time
	Calibrate(hashAlg HashAlgorithm, password, salt []byte, keyLen int) (uint64, error)
}

// PBKDF2 is the default KeyDerivation
type PBKDF2 struct{}

// Derive derives a key using PBKDF2
func (PBKDF2) Derive(hashAlg HashAlgorithm, password, salt []byte, iterations uint64, keyLen int) ([]byte, error) {
	return DeriveKey(hashAlg, password, salt, iterations, keyLen)
}

// Calibrate measures PBKDF2 throughput
func (PBKDF2) Calibrate(hashAlg HashAlgorithm, password, salt []byte, keyLen int) (uint64, error) {
	return CalibrateIterations(hashAlg, password, salt, keyLen)
}

// DeriveKey derives a key from a password using PBKDF2
func DeriveKey(hashAlg HashAlgorithm, password, salt []byte, iterations uint64, keyLen int) ([]byte, error) {
	newHash, err := hashAlg.newHash()
	if err != nil {
		return nil, err
	}
	if iterations == 0 {
		return nil, &CryptoError{Op: "pbkdf2", Err: errors.New("iteration count must be positive")}
	}
	if iterations > math.MaxInt {
		return nil, &CryptoError{Op: "pbkdf2", Err: fmt.Errorf("iterations %d exceed maximum %d", iterations, math.MaxInt)}
	}
	if keyLen <= 0 {
		return nil, &CryptoError{Op: "pbkdf2", Err: fmt.Errorf("invalid key length %d", keyLen)}
	}

	return pbkdf2.Key(password, salt, int(iterations), keyLen, newHash), nil
}

// timeExecution runs one derivation and reports the thread CPU time it
// consumed. Tests replace it to avoid real work.
var timeExecution = func(hashAlg HashAlgorithm, password, salt []byte, iterations uint64, keyLen int) (time.Duration, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	start, err := threadCPUTime()
	if err != nil {
		return 0, err
	}
	key, err := DeriveKey(hashAlg, password, salt, iterations, keyLen)
	if err != nil {
		return 0, err
	}
	clearBytes(key)
	end, err := threadCPUTime()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// CalibrateIterations estimates how many PBKDF2 iterations complete in one
// second. Starting at 2^15 it rescales the iteration count until a single
// derivation takes at least 100ms, then extrapolates linearly.
func CalibrateIterations(hashAlg HashAlgorithm, password, salt []byte, keyLen int) (uint64, error) {
	if !hashAlg.Available() {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedHash, hashAlg)
	}

	iterations := uint64(calibrateStartIterations)
	for round := 0; round < calibrateMaxRounds; round++ {
		elapsed, err := timeExecution(hashAlg, password, salt, iterations, keyLen)
		if err != nil {
			return 0, err
		}

		if elapsed >= calibrateMinDuration {
			rate, err := mulDiv(iterations, uint64(time.Second), uint64(elapsed))
			if err != nil {
				return 0, &CryptoError{Op: "pbkdf2 calibrate", Err: err}
			}
			log().Debug("calibrated pbkdf2",
				"hash", hashAlg.String(),
				"iterations", iterations,
				"cpu_time", elapsed,
				"iterations_per_second", rate)
			return rate, nil
		}

		scale := uint64(calibrateMaxScale)
		if elapsed > 0 {
			scale = min(divRoundUp(uint64(calibrateTargetDuration), uint64(elapsed)), calibrateMaxScale)
		}
		if iterations > math.MaxUint64/scale {
			break
		}
		iterations *= scale
	}

	return 0, &CryptoError{Op: "pbkdf2 calibrate", Err: errors.New("insufficient progress measuring iteration rate")}
}

// scaleIterations converts a calibrated rate into an iteration count for
// the given time budget, divided between divisor consumers and clamped
// to floor
func scaleIterations(rate uint64, budget time.Duration, divisor uint64, floor uint64) (uint32, error) {
	ms := uint64(budget.Milliseconds())
	if ms > 0 && rate > math.MaxUint64/ms {
		return 0, &CryptoError{Op: "pbkdf2", Err: fmt.Errorf("PBKDF iterations %d too large to scale", rate)}
	}
	iterations := rate * ms / 1000
	iterations /= divisor
	if iterations > math.MaxUint32 {
		return 0, &CryptoError{Op: "pbkdf2", Err: fmt.Errorf("PBKDF iterations %d larger than %d", iterations, uint32(math.MaxUint32))}
	}
	return uint32(max(iterations, floor)), nil // #nosec G115 -- bounded above
}

func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, errors.New("division by zero")
	}
	if b != 0 && a > math.MaxUint64/b {
		return 0, fmt.Errorf("iteration rate overflow (%d * %d)", a, b)
	}
	return a * b / c, nil
}
