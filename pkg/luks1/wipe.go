// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/rand"
	"fmt"
	"io"
)

const wipeBufferSize = 1024 * 1024

// WipeOptions contains options for wiping a LUKS1 volume
type WipeOptions struct {
	Device string
	Passes int  // Number of wipe passes (default: 1)
	Random bool // Use random data (default: zeros)

	// HeaderOnly overwrites the header and all key material, which is
	// enough to make the payload unrecoverable
	HeaderOnly bool

	// Trim issues BLKDISCARD after a full wipe of a block device
	Trim bool
}

// Wipe destroys a volume by overwriting it
func Wipe(opts WipeOptions) error {
	if opts.Passes == 0 {
		opts.Passes = 1
	}
	if opts.Passes < 0 {
		return configErrorf("invalid number of passes: %d (must be >= 1)", opts.Passes)
	}

	storage, err := OpenFileStorage(opts.Device, false)
	if err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()
	read, write, _ := StorageFuncs(storage)

	var size int64
	if opts.HeaderOnly {
		v, err := Open(OpenOptions{}, read, OpenNoIO)
		if err != nil {
			return &DeviceError{Device: opts.Device, Op: "wipe", Err: err}
		}
		size = v.PayloadOffset()
		v.Close()
	} else {
		if size, err = storage.Size(); err != nil {
			return err
		}
	}
	if size <= 0 {
		return &DeviceError{Device: opts.Device, Op: "wipe", Err: fmt.Errorf("invalid device size: %d", size)}
	}

	for pass := 0; pass < opts.Passes; pass++ {
		if err := wipePass(write, size, opts.Random); err != nil {
			return &DeviceError{Device: opts.Device, Op: "wipe", Err: fmt.Errorf("pass %d failed: %w", pass+1, err)}
		}
		log().Debug("wipe pass complete", "device", opts.Device, "pass", pass+1, "bytes", size)
	}

	if err := storage.Sync(); err != nil {
		return &DeviceError{Device: opts.Device, Op: "sync", Err: err}
	}

	if opts.Trim && !opts.HeaderOnly && storage.IsBlockDevice() {
		// best effort, the device may not support discard
		if err := issueDiscard(storage.file, 0, uint64(size)); err != nil {
			log().Warn("discard failed", "device", opts.Device, "error", err)
		}
	}

	log().Info("wiped volume", "device", opts.Device, "passes", opts.Passes, "header_only", opts.HeaderOnly)
	return nil
}

// wipePass overwrites [0, size) once
func wipePass(write WriteFunc, size int64, random bool) error {
	buffer := make([]byte, min(wipeBufferSize, size))
	defer clearBytes(buffer)

	for offset := int64(0); offset < size; {
		chunk := buffer[:min(int64(len(buffer)), size-offset)]
		if random {
			if _, err := io.ReadFull(rand.Reader, chunk); err != nil {
				return &CryptoError{Op: "random", Err: err}
			}
		} else {
			clear(chunk)
		}

		n, err := write(offset, chunk)
		if err == nil && n != len(chunk) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &IOError{Op: "wipe", Offset: offset, Err: err}
		}
		offset += int64(n)
	}
	return nil
}
