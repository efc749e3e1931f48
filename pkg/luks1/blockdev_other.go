// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package luks1

import (
	"errors"
	"os"
)

var errBlockDeviceUnsupported = errors.New("block device ioctls are only supported on linux")

func blockDeviceSize(f *os.File) (int64, error) {
	return 0, &DeviceError{Device: f.Name(), Op: "size", Err: errBlockDeviceUnsupported}
}

func issueDiscard(f *os.File, _, _ uint64) error {
	return &DeviceError{Device: f.Name(), Op: "discard", Err: errBlockDeviceUnsupported}
}
