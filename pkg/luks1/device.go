// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Secret identifiers used when the device level API hands raw
// passphrases to Open, Create and Amend
const (
	passphraseSecret    = "passphrase"
	newPassphraseSecret = "new-passphrase"
)

// payloadChunkSize is the transfer unit of ReadPayload and WritePayload
const payloadChunkSize = 1 << 20

// FormatOptions contains options for formatting a device or image file
type FormatOptions struct {
	Device     string
	Passphrase []byte

	CipherAlg    CipherAlgorithm
	CipherMode   CipherMode
	IVGenAlg     IVGenAlgorithm
	IVGenHashAlg HashAlgorithm
	HashAlg      HashAlgorithm
	IterTime     time.Duration

	KDF    KeyDerivation
	Random io.Reader
}

// AddKeyOptions contains options for adding a new key
type AddKeyOptions struct {
	// Keyslot specifies which keyslot to use (nil = first free)
	Keyslot *int

	// IterTime is the PBKDF2 budget (default: 2s)
	IterTime time.Duration

	// Force overwrites an active keyslot
	Force bool

	KDF    KeyDerivation
	Random io.Reader
}

// deviceVolume is an open device together with its volume and storage
// callbacks
type deviceVolume struct {
	storage *FileStorage
	volume  *Volume
	read    ReadFunc
	write   WriteFunc
	init    InitFunc
}

func (d *deviceVolume) Close() error {
	if d.volume != nil {
		d.volume.Close()
	}
	return d.storage.Close()
}

// openDevice locks the device and opens its volume. A nil passphrase
// opens header-only.
func openDevice(device string, passphrase []byte, readOnly bool, kdf KeyDerivation, random io.Reader) (*deviceVolume, error) {
	storage, err := OpenFileStorage(device, readOnly)
	if err != nil {
		return nil, err
	}
	read, write, init := StorageFuncs(storage)

	opts := OpenOptions{KDF: kdf, Random: random}
	var flags OpenFlags
	if passphrase == nil {
		flags |= OpenNoIO
	} else {
		opts.KeySecret = passphraseSecret
		opts.Secrets = SecretMap{passphraseSecret: passphrase}
	}

	v, err := Open(opts, read, flags)
	if err != nil {
		_ = storage.Close()
		return nil, &DeviceError{Device: device, Op: "open", Err: err}
	}
	return &deviceVolume{storage: storage, volume: v, read: read, write: write, init: init}, nil
}

// Format creates a new LUKS1 volume on a device or image file. A missing
// image file is created; it is grown to hold the header and key slots.
func Format(opts FormatOptions) (*Info, error) {
	if err := ValidatePassphrase(opts.Passphrase); err != nil {
		return nil, err
	}

	storage, err := CreateFileStorage(opts.Device)
	if err != nil {
		return nil, err
	}
	defer func() { _ = storage.Close() }()
	_, write, init := StorageFuncs(storage)

	v, err := Create(CreateOptions{
		KeySecret:    passphraseSecret,
		Secrets:      SecretMap{passphraseSecret: opts.Passphrase},
		CipherAlg:    opts.CipherAlg,
		CipherMode:   opts.CipherMode,
		IVGenAlg:     opts.IVGenAlg,
		IVGenHashAlg: opts.IVGenHashAlg,
		HashAlg:      opts.HashAlg,
		IterTime:     opts.IterTime,
		KDF:          opts.KDF,
		Random:       opts.Random,
	}, init, write)
	if err != nil {
		return nil, &DeviceError{Device: opts.Device, Op: "format", Err: err}
	}
	defer v.Close()

	if err := storage.Sync(); err != nil {
		return nil, &DeviceError{Device: opts.Device, Op: "sync", Err: err}
	}
	return v.Info(), nil
}

// GetVolumeInfo reads the header of a LUKS1 device without unlocking it
func GetVolumeInfo(device string) (*Info, error) {
	d, err := openDevice(device, nil, true, nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = d.Close() }()
	return d.volume.Info(), nil
}

// IsLUKS reports whether a device or file starts with a LUKS1 header
func IsLUKS(device string) (bool, error) {
	if err := ValidateDevicePath(device); err != nil {
		return false, err
	}

	f, err := os.Open(device) // #nosec G304 -- device path validated above
	if err != nil {
		return false, &DeviceError{Device: device, Op: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, MagicLen+2)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, &DeviceError{Device: device, Op: "read", Err: err}
	}
	return HasFormat(buf), nil
}

// AddKey adds newPassphrase to a keyslot, unlocking the volume with
// existingPassphrase. It returns the keyslot used.
func AddKey(device string, existingPassphrase, newPassphrase []byte, opts *AddKeyOptions) (int, error) {
	if opts == nil {
		opts = &AddKeyOptions{}
	}
	if err := ValidatePassphrase(existingPassphrase); err != nil {
		return -1, fmt.Errorf("invalid existing passphrase: %w", err)
	}
	if err := ValidatePassphrase(newPassphrase); err != nil {
		return -1, fmt.Errorf("invalid new passphrase: %w", err)
	}

	d, err := openDevice(device, nil, false, opts.KDF, opts.Random)
	if err != nil {
		return -1, err
	}
	defer func() { _ = d.Close() }()

	v := d.volume
	v.secrets = SecretMap{
		passphraseSecret:    existingPassphrase,
		newPassphraseSecret: newPassphrase,
	}
	v.secretID = passphraseSecret

	slot := v.findFreeSlot()
	if opts.Keyslot != nil {
		slot = *opts.Keyslot
	}

	err = v.Amend(AmendOptions{
		State:     KeyslotActive,
		Keyslot:   opts.Keyslot,
		NewSecret: newPassphraseSecret,
		IterTime:  opts.IterTime,
	}, d.read, d.write, opts.Force)
	if err != nil {
		return -1, &DeviceError{Device: device, Op: "add key", Err: err}
	}
	if err := d.storage.Sync(); err != nil {
		return -1, &DeviceError{Device: device, Op: "sync", Err: err}
	}
	return slot, nil
}

// ChangeKey replaces the passphrase held by a keyslot and returns the
// keyslot now holding the new passphrase. The new key material is written
// to a free keyslot and synced before the old keyslot is erased, so a
// failure in between leaves the old passphrase usable. Only when every
// keyslot is in use is the old keyslot overwritten in place.
func ChangeKey(device string, oldPassphrase, newPassphrase []byte, keyslot int) (int, error) {
	if err := checkKeyslotIndex(keyslot); err != nil {
		return -1, err
	}
	d, err := openDevice(device, nil, true, nil, nil)
	if err != nil {
		return -1, err
	}
	key, ok, err := d.volume.loadKey(keyslot, oldPassphrase, d.read)
	clearBytes(key)
	free := d.volume.findFreeSlot()
	_ = d.Close()
	if err != nil {
		return -1, &DeviceError{Device: device, Op: "change key", Err: err}
	}
	if !ok {
		return -1, &DeviceError{Device: device, Op: "change key",
			Err: fmt.Errorf("%w: keyslot %d does not hold the given passphrase", ErrInvalidPassphrase, keyslot)}
	}

	if free < 0 {
		log().Debug("no free keyslot, changing key in place", "slot", keyslot)
		return AddKey(device, oldPassphrase, newPassphrase, &AddKeyOptions{Keyslot: &keyslot, Force: true})
	}

	slot, err := AddKey(device, oldPassphrase, newPassphrase, &AddKeyOptions{Keyslot: &free})
	if err != nil {
		return -1, err
	}
	if err := KillKeyslot(device, keyslot, nil, false); err != nil {
		return slot, &DeviceError{Device: device, Op: "change key", Err: err}
	}
	return slot, nil
}

// RemoveKey erases every keyslot holding passphrase. Unless force is set,
// it refuses to erase all remaining active keyslots.
func RemoveKey(device string, passphrase []byte, force bool) error {
	if err := ValidatePassphrase(passphrase); err != nil {
		return err
	}

	d, err := openDevice(device, nil, false, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	d.volume.secrets = SecretMap{passphraseSecret: passphrase}
	err = d.volume.Amend(AmendOptions{
		State:     KeyslotInactive,
		OldSecret: passphraseSecret,
	}, d.read, d.write, force)
	if err != nil {
		return &DeviceError{Device: device, Op: "remove key", Err: err}
	}
	return d.storage.Sync()
}

// KillKeyslot erases a keyslot. When passphrase is non-nil it must unlock
// the volume through any active keyslot, including the one being erased.
// Unless force is set, an inactive slot or the last active slot is
// refused.
func KillKeyslot(device string, keyslot int, passphrase []byte, force bool) error {
	d, err := openDevice(device, passphrase, false, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	opts := AmendOptions{State: KeyslotInactive, Keyslot: &keyslot}
	if err := d.volume.Amend(opts, d.read, d.write, force); err != nil {
		return &DeviceError{Device: device, Op: "kill keyslot", Err: err}
	}
	return d.storage.Sync()
}

// ReadPayload decrypts the payload of a device into w, up to length bytes
// or the end of the device when length is negative. It returns the number
// of bytes written.
func ReadPayload(device string, passphrase []byte, w io.Writer, length int64) (int64, error) {
	d, err := openDevice(device, passphrase, true, nil, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = d.Close() }()

	size, err := d.storage.Size()
	if err != nil {
		return 0, err
	}
	payloadSize := size - d.volume.PayloadOffset()
	if payloadSize < 0 {
		payloadSize = 0
	}
	if length < 0 || length > payloadSize {
		length = payloadSize
	}

	buf := make([]byte, payloadChunkSize)
	defer clearBytes(buf)

	var done int64
	for done < length {
		want := min(int64(len(buf)), length-done)
		chunk := buf[:alignTo(uint64(want), SectorSize)]
		offset := d.volume.PayloadOffset() + done

		n, err := d.read(offset, chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			return done, &IOError{Op: "read payload", Offset: offset, Err: err}
		}
		// a trailing partial sector is zero padded
		clear(chunk[n:])

		if err := d.volume.Decrypt(uint64(done), chunk); err != nil {
			return done, err
		}
		if _, err := w.Write(chunk[:want]); err != nil {
			return done, fmt.Errorf("failed to write output: %w", err)
		}
		done += want
	}
	return done, nil
}

// WritePayload encrypts everything read from r into the payload of a
// device. A final partial sector is zero padded. It returns the number of
// plaintext bytes consumed.
func WritePayload(device string, passphrase []byte, r io.Reader) (int64, error) {
	d, err := openDevice(device, passphrase, false, nil, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = d.Close() }()

	buf := make([]byte, payloadChunkSize)
	defer clearBytes(buf)

	var done int64
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:alignTo(uint64(n), SectorSize)]
			clear(chunk[n:])
			if err := d.volume.Encrypt(uint64(done), chunk); err != nil {
				return done, err
			}

			offset := d.volume.PayloadOffset() + done
			if err := d.init(offset + int64(len(chunk))); err != nil {
				return done, &IOError{Op: "reserve payload", Offset: offset, Err: err}
			}
			written, err := d.write(offset, chunk)
			if err == nil && written != len(chunk) {
				err = io.ErrShortWrite
			}
			if err != nil {
				return done, &IOError{Op: "write payload", Offset: offset, Err: err}
			}
			done += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return done, fmt.Errorf("failed to read input: %w", readErr)
		}
	}

	if err := d.storage.Sync(); err != nil {
		return done, &DeviceError{Device: device, Op: "sync", Err: err}
	}
	return done, nil
}
