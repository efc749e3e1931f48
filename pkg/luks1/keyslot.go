// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// slotRegion returns the byte offset and length of a slot's key material
func (v *Volume) slotRegion(slot *KeySlot) (int64, int) {
	return int64(slot.KeyOffset) * SectorSize, int(v.header.KeyBytes) * int(slot.Stripes)
}

// storeKey protects masterKey with password and writes it into a key
// slot, then persists the header
func (v *Volume) storeKey(slotIndex int, password, masterKey []byte, iterTime time.Duration, write WriteFunc) error {
	h := v.header
	slot := &h.KeySlots[slotIndex]
	hashAlg := v.spec.hashAlg
	keyLen := int(h.KeyBytes)

	salt, err := randomBytes(v.random, SaltLen)
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}

	rate, err := v.kdf.Calibrate(hashAlg, password, salt, keyLen)
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}
	iterations, err := scaleIterations(rate, iterTime, 1, MinSlotKeyIterations)
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}

	slotKey, err := v.kdf.Derive(hashAlg, password, salt, uint64(iterations), keyLen)
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}
	defer clearBytes(slotKey)

	sc, err := newSectorCipher(v.spec, slotKey)
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}
	defer sc.close()

	split, err := AFSplit(hashAlg, masterKey, int(slot.Stripes), v.random)
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}
	defer clearBytes(split)

	if err := sc.encrypt(0, split); err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}

	offset, _ := v.slotRegion(slot)
	n, err := write(offset, split)
	if err == nil && n != len(split) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: &IOError{Op: "write key material", Offset: offset, Err: err}}
	}

	previous := *slot
	slot.Active = KeySlotEnabled
	slot.Iterations = iterations
	copy(slot.Salt[:], salt)
	if err := StoreHeader(write, h); err != nil {
		*slot = previous
		return &KeyslotError{Keyslot: slotIndex, Op: "store", Err: err}
	}

	log().Debug("stored key slot",
		"slot", slotIndex,
		"iterations", iterations,
		"stripes", slot.Stripes,
		"offset", offset)
	return nil
}

// loadKey tries to recover the master key from one slot. It returns
// (nil, false, nil) when the slot is disabled or the password is wrong.
// The caller must clear a returned key.
func (v *Volume) loadKey(slotIndex int, password []byte, read ReadFunc) ([]byte, bool, error) {
	h := v.header
	slot := &h.KeySlots[slotIndex]
	if !slot.Enabled() {
		return nil, false, nil
	}

	hashAlg := v.spec.hashAlg
	keyLen := int(h.KeyBytes)

	slotKey, err := v.kdf.Derive(hashAlg, password, slot.Salt[:], uint64(slot.Iterations), keyLen)
	if err != nil {
		return nil, false, &KeyslotError{Keyslot: slotIndex, Op: "load", Err: err}
	}
	defer clearBytes(slotKey)

	offset, length := v.slotRegion(slot)
	split := make([]byte, length)
	defer clearBytes(split)
	n, err := read(offset, split)
	if err == nil && n != len(split) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, false, &KeyslotError{Keyslot: slotIndex, Op: "load", Err: &IOError{Op: "read key material", Offset: offset, Err: err}}
	}

	sc, err := newSectorCipher(v.spec, slotKey)
	if err != nil {
		return nil, false, &KeyslotError{Keyslot: slotIndex, Op: "load", Err: err}
	}
	defer sc.close()

	if err := sc.decrypt(0, split); err != nil {
		return nil, false, &KeyslotError{Keyslot: slotIndex, Op: "load", Err: err}
	}

	candidate, err := AFMerge(hashAlg, split, int(slot.Stripes), keyLen)
	if err != nil {
		return nil, false, &KeyslotError{Keyslot: slotIndex, Op: "load", Err: err}
	}

	digest, err := v.kdf.Derive(hashAlg, candidate, h.MKDigestSalt[:], uint64(h.MKDigestIterations), DigestLen)
	if err != nil {
		clearBytes(candidate)
		return nil, false, &KeyslotError{Keyslot: slotIndex, Op: "load", Err: err}
	}
	defer clearBytes(digest)

	if !ConstantTimeEqual(digest, h.MKDigest[:]) {
		clearBytes(candidate)
		log().Debug("key slot did not match", "slot", slotIndex)
		return nil, false, nil
	}
	return candidate, true, nil
}

// findKey tries every slot in index order and returns the master key and
// the slot that unlocked it
func (v *Volume) findKey(password []byte, read ReadFunc) ([]byte, int, error) {
	for i := range v.header.KeySlots {
		key, ok, err := v.loadKey(i, password, read)
		if err != nil {
			return nil, -1, err
		}
		if ok {
			return key, i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: invalid password, cannot unlock any keyslot", ErrInvalidPassphrase)
}

// eraseKey disables a slot, persists the header and then overwrites the
// slot's key material. The overwrite runs even if the header write
// failed; all failures are reported together.
func (v *Volume) eraseKey(slotIndex int, write WriteFunc) error {
	h := v.header
	slot := &h.KeySlots[slotIndex]

	clear(slot.Salt[:])
	slot.Iterations = 0
	slot.Active = KeySlotDisabled

	var errs []error
	if err := StoreHeader(write, h); err != nil {
		errs = append(errs, err)
	}

	offset, length := v.slotRegion(slot)
	garbage := make([]byte, length)
	for pass := 0; pass < EraseIterations; pass++ {
		if _, err := io.ReadFull(v.random, garbage); err != nil {
			errs = append(errs, &CryptoError{Op: "random", Err: err})
			if pass > 0 {
				break
			}
			// still overwrite with zeros once
			clear(garbage)
		}
		n, err := write(offset, garbage)
		if err == nil && n != len(garbage) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = append(errs, &IOError{Op: "erase key material", Offset: offset, Err: err})
			break
		}
	}
	clear(garbage)

	if err := errors.Join(errs...); err != nil {
		return &KeyslotError{Keyslot: slotIndex, Op: "erase", Err: err}
	}
	log().Debug("erased key slot", "slot", slotIndex, "passes", EraseIterations)
	return nil
}

// countActiveSlots returns the number of enabled slots
func (v *Volume) countActiveSlots() int {
	n := 0
	for i := range v.header.KeySlots {
		if v.header.KeySlots[i].Enabled() {
			n++
		}
	}
	return n
}

// findFreeSlot returns the first disabled slot, or -1 when all are in use
func (v *Volume) findFreeSlot() int {
	for i := range v.header.KeySlots {
		if !v.header.KeySlots[i].Enabled() {
			return i
		}
	}
	return -1
}
