// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package luks1

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anatol/devmapper.go"
	"golang.org/x/sys/unix"
)

// dmUUID builds the device-mapper UUID cryptsetup assigns to LUKS1
// mappings
func dmUUID(volumeUUID, name string) string {
	return fmt.Sprintf("CRYPT-LUKS1-%s-%s", strings.ReplaceAll(volumeUUID, "-", ""), name)
}

// Activate unlocks a LUKS1 device and maps its payload to
// /dev/mapper/<name> using dm-crypt. Image files are attached to an
// auto-clearing loop device first.
func Activate(device, name string, passphrase []byte) error {
	if err := ValidatePassphrase(passphrase); err != nil {
		return err
	}
	if IsActive(name) {
		return &DeviceError{Device: name, Op: "activate",
			Err: fmt.Errorf("%w: close it first with: luks1 close %s", ErrVolumeAlreadyActive, name)}
	}

	storage, err := OpenFileStorage(device, true)
	if err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()
	read, _, _ := StorageFuncs(storage)

	v, err := Open(OpenOptions{}, read, OpenNoIO)
	if err != nil {
		return &DeviceError{Device: device, Op: "activate", Err: err}
	}
	defer v.Close()

	masterKey, slot, err := v.findKey(passphrase, read)
	if err != nil {
		return &DeviceError{Device: device, Op: "activate", Err: err}
	}
	defer clearBytes(masterKey)

	size, err := storage.Size()
	if err != nil {
		return err
	}
	payloadSize := size - v.PayloadOffset()
	if payloadSize <= 0 {
		return &DeviceError{Device: device, Op: "activate", Err: fmt.Errorf("device has no payload beyond offset %d", v.PayloadOffset())}
	}

	backend := device
	if !storage.IsBlockDevice() {
		if backend, err = SetupLoopDevice(device, true); err != nil {
			return err
		}
	}

	table := devmapper.CryptTable{
		Start:         0,
		Length:        uint64(payloadSize),
		BackendDevice: backend,
		BackendOffset: uint64(v.PayloadOffset()),
		Encryption:    v.DMCipher(),
		Key:           masterKey,
		SectorSize:    SectorSize,
	}
	if err := devmapper.CreateAndLoad(name, dmUUID(v.UUID(), name), 0, table); err != nil {
		if backend != device {
			_ = DetachLoopDevice(backend)
		}
		return &DeviceError{Device: name, Op: "create mapping", Err: err}
	}

	// udev may be absent, e.g. in containers
	if err := ensureDeviceNode(name); err != nil {
		log().Warn("failed to create device node", "name", name, "error", err)
	}

	log().Info("activated volume", "device", device, "name", name, "slot", slot, "cipher", table.Encryption)
	return nil
}

// ensureDeviceNode creates the /dev/mapper/<name> node if nothing else did
func ensureDeviceNode(name string) error {
	info, err := devmapper.InfoByName(name)
	if err != nil {
		return err
	}

	mapperPath := "/dev/mapper/" + name
	dmPath := fmt.Sprintf("/dev/dm-%d", unix.Minor(uint64(info.DevNo)))
	if _, err := os.Stat(mapperPath); err == nil {
		return nil
	}
	if _, err := os.Stat(dmPath); err == nil {
		return nil
	}

	devInt, err := SafeUint64ToInt(uint64(info.DevNo))
	if err != nil {
		return fmt.Errorf("invalid device number: %w", err)
	}
	if err := unix.Mknod(mapperPath, unix.S_IFBLK|0660, devInt); err != nil {
		return &DeviceError{Device: mapperPath, Op: "mknod", Err: err}
	}
	return nil
}

// Deactivate removes a dm-crypt mapping created by Activate
func Deactivate(name string) error {
	if !IsActive(name) {
		return &DeviceError{Device: name, Op: "deactivate", Err: ErrVolumeNotActive}
	}
	if err := devmapper.Remove(name); err != nil {
		return &DeviceError{Device: name, Op: "remove mapping", Err: err}
	}
	// the node is gone already when udev manages /dev/mapper
	_ = os.Remove("/dev/mapper/" + name)

	log().Info("deactivated volume", "name", name)
	return nil
}

// IsActive reports whether a device-mapper mapping with this name exists
func IsActive(name string) bool {
	_, err := devmapper.InfoByName(name)
	return err == nil
}

// MappedDevicePath returns the block device of an active mapping,
// preferring /dev/mapper/<name> and falling back to /dev/dm-<minor>
func MappedDevicePath(name string) (string, error) {
	mapperPath := "/dev/mapper/" + name
	if _, err := os.Stat(mapperPath); err == nil {
		return mapperPath, nil
	}

	info, err := devmapper.InfoByName(name)
	if err != nil {
		return "", &DeviceError{Device: name, Op: "lookup", Err: ErrVolumeNotActive}
	}
	dmPath := fmt.Sprintf("/dev/dm-%d", unix.Minor(uint64(info.DevNo)))

	// the kernel creates the node asynchronously
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(dmPath); err == nil {
			return dmPath, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return dmPath, nil
}
