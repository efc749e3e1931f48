// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"io"
	"time"
)

// LUKS1 on-disk format constants
const (
	Magic      = "LUKS\xba\xbe"
	MagicLen   = 6
	Version    = 1
	HeaderSize = 592

	// SectorSize is the unit for key material and payload transforms
	SectorSize = 512

	NumKeySlots = 8
	SaltLen     = 32
	DigestLen   = 20

	// AFStripes is the stripe count used for newly created key slots
	AFStripes = 4000

	// KeySlotAlignment is the byte alignment of the header and each key
	// material region
	KeySlotAlignment = 4096

	KeySlotEnabled  = 0x00AC71F3
	KeySlotDisabled = 0x0000DEAD

	MinSlotKeyIterations   = 1000
	MinMasterKeyIterations = 1000

	// EraseIterations is the number of random overwrite passes applied
	// to key material when a slot is erased
	EraseIterations = 40

	// DefaultIterTime is the PBKDF2 time budget used when none is given
	DefaultIterTime = 2000 * time.Millisecond

	// masterKeyIterDivisor splits the verifier budget across all slots
	masterKeyIterDivisor = 8

	cipherNameLen = 32
	cipherModeLen = 32
	hashSpecLen   = 32
	uuidLen       = 40
)

// headerSectors is the number of sectors reserved in front of the first
// key material region
const headerSectors = KeySlotAlignment / SectorSize

// OpenFlags alter the behaviour of Open
type OpenFlags uint

const (
	// OpenNoIO loads and validates the header without recovering the
	// master key. Encrypt and Decrypt are unavailable on such a volume.
	OpenNoIO OpenFlags = 1 << iota
)

// OpenOptions contains options for opening an existing volume
type OpenOptions struct {
	// KeySecret identifies the password in Secrets. Required unless
	// OpenNoIO is set.
	KeySecret string

	// Secrets resolves secret identifiers to passwords
	Secrets SecretLookup

	// KDF derives and calibrates PBKDF2 keys (default: PBKDF2)
	KDF KeyDerivation

	// Random is the CSPRNG used for later amend operations (default: crypto/rand)
	Random io.Reader
}

// CreateOptions contains options for formatting a new volume. Zero values
// select the defaults: aes-256, xts, plain64, sha256 and a 2s iteration time.
type CreateOptions struct {
	KeySecret string
	Secrets   SecretLookup

	CipherAlg  CipherAlgorithm
	CipherMode CipherMode
	IVGenAlg   IVGenAlgorithm

	// IVGenHashAlg is only meaningful for ESSIV, where it defaults to sha256
	IVGenHashAlg HashAlgorithm

	HashAlg  HashAlgorithm
	IterTime time.Duration

	KDF    KeyDerivation
	Random io.Reader
}

// KeyslotState selects the amend sub-operation
type KeyslotState int

const (
	// KeyslotActive adds a password to a key slot
	KeyslotActive KeyslotState = iota + 1
	// KeyslotInactive erases one or more key slots
	KeyslotInactive
)

// AmendOptions describe a key slot change
type AmendOptions struct {
	State KeyslotState

	// Keyslot selects a slot explicitly (nil = first free slot when
	// activating, all matching slots when erasing)
	Keyslot *int

	// Secret identifies the password that unlocks the volume when
	// activating. Empty means the secret the volume was opened or
	// created with.
	Secret string

	// NewSecret identifies the password stored into the activated slot
	NewSecret string

	// OldSecret identifies a password; slots holding it are erased
	OldSecret string

	// IterTime is the PBKDF2 budget for an activated slot
	IterTime time.Duration
}

// KeyslotIndex returns a pointer suitable for AmendOptions.Keyslot
func KeyslotIndex(i int) *int {
	return &i
}

// Info is a read-only view of an open volume
type Info struct {
	CipherAlg           CipherAlgorithm `json:"cipher_alg" yaml:"cipher_alg"`
	CipherMode          CipherMode      `json:"cipher_mode" yaml:"cipher_mode"`
	IVGenAlg            IVGenAlgorithm  `json:"ivgen_alg" yaml:"ivgen_alg"`
	IVGenHashAlg        HashAlgorithm   `json:"ivgen_hash_alg,omitempty" yaml:"ivgen_hash_alg,omitempty"`
	HashAlg             HashAlgorithm   `json:"hash_alg" yaml:"hash_alg"`
	PayloadOffset       uint64          `json:"payload_offset" yaml:"payload_offset"`
	MasterKeyIterations uint32          `json:"master_key_iters" yaml:"master_key_iters"`
	UUID                string          `json:"uuid" yaml:"uuid"`
	Slots               []SlotInfo      `json:"slots" yaml:"slots"`
}

// SlotInfo describes one key slot. Iterations and Stripes are only
// reported for active slots.
type SlotInfo struct {
	Active     bool   `json:"active" yaml:"active"`
	KeyOffset  uint64 `json:"key_offset" yaml:"key_offset"`
	Iterations uint32 `json:"iters,omitempty" yaml:"iters,omitempty"`
	Stripes    uint32 `json:"stripes,omitempty" yaml:"stripes,omitempty"`
}

// ActiveSlots returns the indexes of all active slots
func (i *Info) ActiveSlots() []int {
	var slots []int
	for n, s := range i.Slots {
		if s.Active {
			slots = append(slots, n)
		}
	}
	return slots
}
