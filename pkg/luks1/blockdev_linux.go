// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package luks1

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockDeviceSize returns the size of a block device using BLKGETSIZE64
func blockDeviceSize(f *os.File) (int64, error) {
	var size uint64
	// #nosec G103 -- unsafe.Pointer required for ioctl syscall
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, &DeviceError{Device: f.Name(), Op: "BLKGETSIZE64", Err: errno}
	}
	return SafeUint64ToInt64(size)
}

// issueDiscard tells the device the byte range no longer holds data
func issueDiscard(f *os.File, offset, length uint64) error {
	rng := [2]uint64{offset, length}
	// #nosec G103 -- unsafe.Pointer required for ioctl syscall
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKDISCARD, uintptr(unsafe.Pointer(&rng[0])))
	if errno != 0 {
		return &DeviceError{Device: f.Name(), Op: "BLKDISCARD", Err: errno}
	}
	return nil
}
