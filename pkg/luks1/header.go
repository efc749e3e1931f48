// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// KeySlot is the 48 byte on-disk key slot descriptor
type KeySlot struct {
	Active     uint32
	Iterations uint32
	Salt       [SaltLen]byte
	KeyOffset  uint32 // in sectors
	Stripes    uint32
}

// Enabled reports whether the slot holds key material
func (s *KeySlot) Enabled() bool {
	return s.Active == KeySlotEnabled
}

// Header is the 592 byte LUKS1 partition header. All integers are stored
// big-endian.
type Header struct {
	Magic              [MagicLen]byte
	Version            uint16
	CipherName         [cipherNameLen]byte
	CipherMode         [cipherModeLen]byte
	HashSpec           [hashSpecLen]byte
	PayloadOffset      uint32 // in sectors
	KeyBytes           uint32
	MKDigest           [DigestLen]byte
	MKDigestSalt       [SaltLen]byte
	MKDigestIterations uint32
	UUID               [uuidLen]byte
	KeySlots           [NumKeySlots]KeySlot
}

// MarshalBinary encodes the header into its on-disk form
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.BigEndian, h); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an on-disk header. It performs no semantic
// validation.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return headerErrorf("header is %d bytes, need %d", len(data), HeaderSize)
	}
	var decoded Header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.BigEndian, &decoded); err != nil {
		return headerErrorf("failed to decode header: %v", err)
	}
	*h = decoded
	return nil
}

// UUIDString returns the volume UUID without NUL padding
func (h *Header) UUIDString() string {
	return cString(h.UUID[:])
}

// LoadHeader reads the header from offset 0
func LoadHeader(read ReadFunc) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := read(0, buf)
	if err != nil {
		return nil, &IOError{Op: "read header", Offset: 0, Err: err}
	}
	if n != HeaderSize {
		return nil, &IOError{Op: "read header", Offset: 0, Err: io.ErrUnexpectedEOF}
	}

	h := &Header{}
	if err := h.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return h, nil
}

// StoreHeader writes the header at offset 0
func StoreHeader(write WriteFunc, h *Header) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	n, err := write(0, buf)
	if err != nil {
		return &IOError{Op: "write header", Offset: 0, Err: err}
	}
	if n != len(buf) {
		return &IOError{Op: "write header", Offset: 0, Err: io.ErrShortWrite}
	}
	return nil
}

// HasFormat reports whether buf starts with a LUKS1 magic and version
func HasFormat(buf []byte) bool {
	if len(buf) < MagicLen+2 {
		return false
	}
	return bytes.Equal(buf[:MagicLen], []byte(Magic)) &&
		binary.BigEndian.Uint16(buf[MagicLen:MagicLen+2]) == Version
}

// splitKeySectors returns the sector count of one key material region,
// rounded up to the key slot alignment
func splitKeySectors(keyBytes, stripes uint32) uint64 {
	sectors := divRoundUp(uint64(keyBytes)*uint64(stripes), SectorSize)
	return alignTo(sectors, headerSectors)
}

// Validate checks the structural invariants of a header and returns the
// first violation found
func Validate(h *Header) error {
	if !bytes.Equal(h.Magic[:], []byte(Magic)) {
		return headerErrorf("volume is not in LUKS format")
	}
	if h.Version != Version {
		return headerErrorf("LUKS version %d is not supported", h.Version)
	}

	for _, f := range []struct {
		name  string
		value []byte
	}{
		{"cipher name", h.CipherName[:]},
		{"cipher mode", h.CipherMode[:]},
		{"hash spec", h.HashSpec[:]},
	} {
		if bytes.IndexByte(f.value, 0) < 0 {
			return headerErrorf("LUKS header %s is not NUL terminated", f.name)
		}
	}

	for i := range h.KeySlots {
		slot := &h.KeySlots[i]
		if slot.Stripes != AFStripes {
			return headerErrorf("keyslot %d is corrupted (stripes %d != %d)", i, slot.Stripes, AFStripes)
		}
		if slot.Active != KeySlotEnabled && slot.Active != KeySlotDisabled {
			return headerErrorf("keyslot %d state (active/disable) is corrupted", i)
		}
		if slot.Enabled() && slot.Iterations == 0 {
			return headerErrorf("keyslot %d iteration count is zero", i)
		}

		start1 := uint64(slot.KeyOffset)
		len1 := splitKeySectors(h.KeyBytes, slot.Stripes)
		if start1 < headerSectors {
			return headerErrorf("keyslot %d is overlapping with the LUKS header", i)
		}
		if start1+len1 > uint64(h.PayloadOffset) {
			return headerErrorf("keyslot %d is overlapping with the encrypted payload", i)
		}

		for j := i + 1; j < NumKeySlots; j++ {
			other := &h.KeySlots[j]
			start2 := uint64(other.KeyOffset)
			len2 := splitKeySectors(h.KeyBytes, other.Stripes)
			if start1+len1 > start2 && start2+len2 > start1 {
				return headerErrorf("keyslots %d and %d are overlapping in the header", i, j)
			}
		}
	}
	return nil
}

// ParseCipherSpec resolves the algorithm names stored in a header. The
// cipher_mode field has the form "<mode>-<ivgen>[:<ivhash>]".
func ParseCipherSpec(h *Header) (*cipherSpec, error) {
	modeSpec := cString(h.CipherMode[:])
	modeName, ivgenName, ok := strings.Cut(modeSpec, "-")
	if !ok {
		return nil, configErrorf("unexpected cipher mode string format '%s'", modeSpec)
	}
	ivgenName, ivhashName, hasIVHash := strings.Cut(ivgenName, ":")

	spec := &cipherSpec{}
	var err error
	if hasIVHash {
		if spec.ivgenHashAlg, err = ParseHashAlgorithm(ivhashName); err != nil {
			return nil, err
		}
	}
	if spec.cipherMode, err = ParseCipherMode(modeName); err != nil {
		return nil, err
	}
	if spec.cipherAlg, err = lookupHeaderCipher(cString(h.CipherName[:]), spec.cipherMode, h.KeyBytes); err != nil {
		return nil, err
	}
	if spec.hashAlg, err = ParseHashAlgorithm(cString(h.HashSpec[:])); err != nil {
		return nil, err
	}
	if spec.ivgenAlg, err = ParseIVGenAlgorithm(ivgenName); err != nil {
		return nil, err
	}

	if spec.ivgenAlg == IVGenESSIV {
		if !hasIVHash {
			return nil, configErrorf("missing IV generator hash specification")
		}
		if spec.ivgenCipherAlg, err = essivCipher(spec.cipherAlg, spec.ivgenHashAlg); err != nil {
			return nil, err
		}
	} else {
		// dm-crypt accepts and ignores a hash for the other generators
		spec.ivgenHashAlg = 0
		spec.ivgenCipherAlg = spec.cipherAlg
	}
	return spec, nil
}
