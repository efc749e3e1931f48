// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Volume is an open LUKS1 volume. A Volume is not safe for concurrent
// use; callers serialize access, including Encrypt and Decrypt.
type Volume struct {
	header  *Header
	spec    *cipherSpec
	payload *sectorCipher

	kdf      KeyDerivation
	random   io.Reader
	secrets  SecretLookup
	secretID string
}

func newVolume(h *Header, spec *cipherSpec, kdf KeyDerivation, random io.Reader, secrets SecretLookup, secretID string) *Volume {
	if kdf == nil {
		kdf = PBKDF2{}
	}
	if random == nil {
		random = rand.Reader
	}
	return &Volume{
		header:   h,
		spec:     spec,
		kdf:      kdf,
		random:   random,
		secrets:  secrets,
		secretID: secretID,
	}
}

// Open loads, validates and parses the header read through read. Unless
// OpenNoIO is given, the password named by opts.KeySecret unlocks the
// master key and the payload cipher is initialized.
func Open(opts OpenOptions, read ReadFunc, flags OpenFlags) (*Volume, error) {
	noIO := flags&OpenNoIO != 0

	var password []byte
	if !noIO {
		pw, err := lookupPassword(opts.Secrets, opts.KeySecret)
		if err != nil {
			return nil, err
		}
		password = pw
		defer clearBytes(password)
	}

	h, err := LoadHeader(read)
	if err != nil {
		return nil, err
	}
	if err := Validate(h); err != nil {
		return nil, err
	}
	spec, err := ParseCipherSpec(h)
	if err != nil {
		return nil, err
	}

	v := newVolume(h, spec, opts.KDF, opts.Random, opts.Secrets, opts.KeySecret)
	if noIO {
		return v, nil
	}

	masterKey, slot, err := v.findKey(password, read)
	if err != nil {
		return nil, err
	}
	defer clearBytes(masterKey)

	if v.payload, err = newSectorCipher(spec, masterKey); err != nil {
		return nil, err
	}

	log().Debug("opened LUKS1 volume", "uuid", h.UUIDString(), "slot", slot)
	return v, nil
}

// applyCreateDefaults fills in unset algorithm options
func applyCreateDefaults(opts *CreateOptions) {
	if opts.CipherAlg == 0 {
		opts.CipherAlg = CipherAES256
	}
	if opts.CipherMode == 0 {
		opts.CipherMode = ModeXTS
	}
	if opts.IVGenAlg == 0 {
		opts.IVGenAlg = IVGenPlain64
	}
	if opts.HashAlg == 0 {
		opts.HashAlg = HashSHA256
	}
	if opts.IterTime == 0 {
		opts.IterTime = DefaultIterTime
	}
	if opts.IVGenAlg == IVGenESSIV && opts.IVGenHashAlg == 0 {
		opts.IVGenHashAlg = HashSHA256
	}
}

// createSpec validates the algorithm selection of a new volume
func createSpec(opts *CreateOptions) (*cipherSpec, error) {
	if _, ok := cipherAlgs[opts.CipherAlg]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCipher, opts.CipherAlg)
	}
	if _, ok := cipherModes[opts.CipherMode]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, opts.CipherMode)
	}
	if _, ok := ivgenAlgs[opts.IVGenAlg]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedIVGen, opts.IVGenAlg)
	}
	if !opts.HashAlg.Available() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, opts.HashAlg)
	}

	spec := &cipherSpec{
		cipherAlg:  opts.CipherAlg,
		cipherMode: opts.CipherMode,
		ivgenAlg:   opts.IVGenAlg,
		hashAlg:    opts.HashAlg,
	}
	if opts.IVGenAlg == IVGenESSIV {
		cipherAlg, err := essivCipher(opts.CipherAlg, opts.IVGenHashAlg)
		if err != nil {
			return nil, err
		}
		spec.ivgenHashAlg = opts.IVGenHashAlg
		spec.ivgenCipherAlg = cipherAlg
	} else {
		spec.ivgenCipherAlg = opts.CipherAlg
	}
	return spec, nil
}

// setHeaderField copies a name into a NUL padded header field
func setHeaderField(field []byte, what, value string) error {
	if len(value) >= len(field) {
		return configErrorf("%s '%s' is too long for LUKS header", what, value)
	}
	clear(field)
	copy(field, value)
	return nil
}

// Create formats a new volume. It reserves storage through init and
// writes the header and the first key slot through write.
func Create(opts CreateOptions, init InitFunc, write WriteFunc) (*Volume, error) {
	applyCreateDefaults(&opts)

	password, err := lookupPassword(opts.Secrets, opts.KeySecret)
	if err != nil {
		return nil, err
	}
	defer clearBytes(password)

	spec, err := createSpec(&opts)
	if err != nil {
		return nil, err
	}

	h := &Header{Version: Version}
	copy(h.Magic[:], Magic)
	copy(h.UUID[:], uuid.New().String())

	cipherName, err := headerCipherName(spec.cipherAlg)
	if err != nil {
		return nil, err
	}
	if err := setHeaderField(h.CipherName[:], "cipher name", cipherName); err != nil {
		return nil, err
	}
	if err := setHeaderField(h.CipherMode[:], "cipher mode", spec.modeString()); err != nil {
		return nil, err
	}
	if err := setHeaderField(h.HashSpec[:], "hash name", spec.hashAlg.String()); err != nil {
		return nil, err
	}

	keyLen := spec.keyLen()
	h.KeyBytes = uint32(keyLen) // #nosec G115 -- at most 64

	v := newVolume(h, spec, opts.KDF, opts.Random, opts.Secrets, opts.KeySecret)

	salt, err := randomBytes(v.random, SaltLen)
	if err != nil {
		return nil, err
	}
	copy(h.MKDigestSalt[:], salt)

	masterKey, err := randomBytes(v.random, keyLen)
	if err != nil {
		return nil, err
	}
	defer clearBytes(masterKey)

	if v.payload, err = newSectorCipher(spec, masterKey); err != nil {
		return nil, err
	}
	fail := func(err error) (*Volume, error) {
		v.Close()
		return nil, err
	}

	rate, err := v.kdf.Calibrate(spec.hashAlg, masterKey, salt, DigestLen)
	if err != nil {
		return fail(err)
	}
	// at most 8 slots, each spending at most 1s of the budget
	h.MKDigestIterations, err = scaleIterations(rate, opts.IterTime, masterKeyIterDivisor, MinMasterKeyIterations)
	if err != nil {
		return fail(err)
	}
	digest, err := v.kdf.Derive(spec.hashAlg, masterKey, salt, uint64(h.MKDigestIterations), DigestLen)
	if err != nil {
		return fail(err)
	}
	copy(h.MKDigest[:], digest)
	clearBytes(digest)

	splitSectors := splitKeySectors(h.KeyBytes, AFStripes)
	for i := range h.KeySlots {
		h.KeySlots[i] = KeySlot{
			Active:    KeySlotDisabled,
			KeyOffset: uint32(headerSectors + uint64(i)*splitSectors), // #nosec G115 -- bounded by key size
			Stripes:   AFStripes,
		}
	}
	h.PayloadOffset = uint32(headerSectors + NumKeySlots*splitSectors) // #nosec G115 -- bounded by key size

	log().Debug("laid out key slots",
		"split_key_sectors", splitSectors,
		"payload_offset", h.PayloadOffset)

	reserve := int64(h.PayloadOffset) * SectorSize
	if err := init(reserve); err != nil {
		return fail(&IOError{Op: "reserve storage", Offset: reserve, Err: err})
	}

	if err := v.storeKey(0, password, masterKey, opts.IterTime, write); err != nil {
		return fail(err)
	}

	log().Info("created LUKS1 volume",
		"uuid", h.UUIDString(),
		"cipher", spec.cipherAlg.String(),
		"mode", spec.modeString(),
		"hash", spec.hashAlg.String(),
		"master_key_iterations", h.MKDigestIterations)
	return v, nil
}

// Info returns a read-only description of the volume
func (v *Volume) Info() *Info {
	h := v.header
	info := &Info{
		CipherAlg:           v.spec.cipherAlg,
		CipherMode:          v.spec.cipherMode,
		IVGenAlg:            v.spec.ivgenAlg,
		IVGenHashAlg:        v.spec.ivgenHashAlg,
		HashAlg:             v.spec.hashAlg,
		PayloadOffset:       uint64(h.PayloadOffset) * SectorSize,
		MasterKeyIterations: h.MKDigestIterations,
		UUID:                h.UUIDString(),
		Slots:               make([]SlotInfo, NumKeySlots),
	}
	for i := range h.KeySlots {
		slot := &h.KeySlots[i]
		info.Slots[i] = SlotInfo{
			Active:    slot.Enabled(),
			KeyOffset: uint64(slot.KeyOffset) * SectorSize,
		}
		if slot.Enabled() {
			info.Slots[i].Iterations = slot.Iterations
			info.Slots[i].Stripes = slot.Stripes
		}
	}
	return info
}

// PayloadOffset returns the byte offset of the encrypted payload
func (v *Volume) PayloadOffset() int64 {
	return int64(v.header.PayloadOffset) * SectorSize
}

// UUID returns the volume UUID
func (v *Volume) UUID() string {
	return v.header.UUIDString()
}

// DMCipher returns the cipher specification in dm-crypt notation, e.g.
// "aes-xts-plain64" or "aes-cbc-essiv:sha256"
func (v *Volume) DMCipher() string {
	name := cipherAlgs[v.spec.cipherAlg].family
	if v.spec.cipherMode == ModeECB {
		return name + "-ecb"
	}
	return name + "-" + v.spec.modeString()
}

// Encrypt encrypts buf in place. offset is the payload relative byte
// offset; offset and len(buf) must be multiples of SectorSize.
func (v *Volume) Encrypt(offset uint64, buf []byte) error {
	if err := v.checkPayloadRequest(offset, buf); err != nil {
		return err
	}
	return v.payload.encrypt(offset/SectorSize, buf)
}

// Decrypt decrypts buf in place. offset is the payload relative byte
// offset; offset and len(buf) must be multiples of SectorSize.
func (v *Volume) Decrypt(offset uint64, buf []byte) error {
	if err := v.checkPayloadRequest(offset, buf); err != nil {
		return err
	}
	return v.payload.decrypt(offset/SectorSize, buf)
}

func (v *Volume) checkPayloadRequest(offset uint64, buf []byte) error {
	if v.payload == nil {
		return ErrNoKeyMaterial
	}
	if offset%SectorSize != 0 || len(buf)%SectorSize != 0 {
		return fmt.Errorf("%w: offset %d length %d", ErrUnaligned, offset, len(buf))
	}
	return nil
}

// Close releases the payload cipher and forgets the cached secret
// reference. The header remains available to Info.
func (v *Volume) Close() {
	if v.payload != nil {
		v.payload.close()
		v.payload = nil
	}
	v.secretID = ""
	v.secrets = nil
}
