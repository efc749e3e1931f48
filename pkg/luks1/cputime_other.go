// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package luks1

import (
	"errors"
	"runtime"
	"time"
)

func threadCPUTime() (time.Duration, error) {
	return 0, &CryptoError{Op: "thread cpu time", Err: errors.New("not supported on " + runtime.GOOS)}
}
