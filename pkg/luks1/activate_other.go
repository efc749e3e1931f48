// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package luks1

import "errors"

var errNoDeviceMapper = errors.New("dm-crypt activation is only supported on linux")

func Activate(device, name string, passphrase []byte) error {
	return &DeviceError{Device: device, Op: "activate", Err: errNoDeviceMapper}
}

func Deactivate(name string) error {
	return &DeviceError{Device: name, Op: "deactivate", Err: errNoDeviceMapper}
}

func IsActive(string) bool {
	return false
}

func MappedDevicePath(name string) (string, error) {
	return "", &DeviceError{Device: name, Op: "lookup", Err: errNoDeviceMapper}
}

func SetupLoopDevice(file string, _ bool) (string, error) {
	return "", &DeviceError{Device: file, Op: "attach loop", Err: errNoDeviceMapper}
}

func DetachLoopDevice(device string) error {
	return &DeviceError{Device: device, Op: "detach loop", Err: errNoDeviceMapper}
}

func FindLoopDevice(file string) (string, error) {
	return "", &DeviceError{Device: file, Op: "find loop device", Err: errNoDeviceMapper}
}
