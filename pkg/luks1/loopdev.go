// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package luks1

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// SetupLoopDevice attaches an image file to a free loop device. With
// autoClear the kernel detaches the loop device once its last user, such
// as a dm-crypt mapping, closes it.
func SetupLoopDevice(file string, autoClear bool) (string, error) {
	backingFile, err := os.OpenFile(file, os.O_RDWR, 0) // #nosec G304 -- user-provided file path for disk image
	if err != nil {
		return "", &DeviceError{Device: file, Op: "open", Err: err}
	}
	defer func() { _ = backingFile.Close() }()

	loopControl, err := os.OpenFile("/dev/loop-control", os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("failed to open loop-control: %w", err)
	}
	defer func() { _ = loopControl.Close() }()

	devNum, err := unix.IoctlRetInt(int(loopControl.Fd()), unix.LOOP_CTL_GET_FREE) // #nosec G115 -- fd fits in int
	if err != nil {
		return "", fmt.Errorf("LOOP_CTL_GET_FREE failed: %w", err)
	}
	loopDevice := fmt.Sprintf("/dev/loop%d", devNum)

	loopFile, err := os.OpenFile(loopDevice, os.O_RDWR, 0) // #nosec G304 -- loop device path constructed from kernel
	if err != nil {
		return "", &DeviceError{Device: loopDevice, Op: "open", Err: err}
	}
	defer func() { _ = loopFile.Close() }()

	loopFd := int(loopFile.Fd()) // #nosec G115 -- fd fits in int
	if err := unix.IoctlSetInt(loopFd, unix.LOOP_SET_FD, int(backingFile.Fd())); err != nil { // #nosec G115 -- fd fits in int
		return "", &DeviceError{Device: loopDevice, Op: "LOOP_SET_FD", Err: err}
	}

	if autoClear {
		status := unix.LoopInfo64{Flags: unix.LO_FLAGS_AUTOCLEAR}
		copy(status.File_name[:], file)
		if err := unix.IoctlLoopSetStatus64(loopFd, &status); err != nil {
			_ = unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
			return "", &DeviceError{Device: loopDevice, Op: "LOOP_SET_STATUS64", Err: err}
		}
	}

	log().Debug("attached loop device", "file", file, "device", loopDevice)
	return loopDevice, nil
}

// DetachLoopDevice detaches a loop device
func DetachLoopDevice(device string) error {
	loopFile, err := os.OpenFile(device, os.O_RDWR, 0) // #nosec G304 -- loop device path from SetupLoopDevice
	if err != nil {
		return &DeviceError{Device: device, Op: "open", Err: err}
	}
	defer func() { _ = loopFile.Close() }()

	if err := unix.IoctlSetInt(int(loopFile.Fd()), unix.LOOP_CLR_FD, 0); err != nil { // #nosec G115 -- fd fits in int
		return &DeviceError{Device: device, Op: "LOOP_CLR_FD", Err: err}
	}
	return nil
}

// FindLoopDevice finds the loop device backed by file by reading /sys
func FindLoopDevice(file string) (string, error) {
	absFile, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "loop") {
			continue
		}

		data, err := os.ReadFile(filepath.Join("/sys/block", name, "loop", "backing_file")) // #nosec G304 -- sysfs path constructed from known prefix
		if err != nil {
			continue
		}
		backingFile, err := filepath.Abs(strings.TrimSuffix(string(data), "\n"))
		if err != nil {
			continue
		}
		if absFile == backingFile {
			return "/dev/" + name, nil
		}
	}

	return "", &DeviceError{Device: file, Op: "find loop device", Err: ErrDeviceNotFound}
}
