// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// ivGenerator fills iv with the initialization vector for a sector
type ivGenerator interface {
	calculate(sector uint64, iv []byte)
	close()
}

// newIVGenerator builds the IV generator for a cipher spec. key is the key
// the sector cipher is keyed with.
func newIVGenerator(alg IVGenAlgorithm, cipherAlg CipherAlgorithm, hashAlg HashAlgorithm, key []byte) (ivGenerator, error) {
	switch alg {
	case IVGenPlain:
		return plainIV{}, nil
	case IVGenPlain64:
		return plain64IV{}, nil
	case IVGenESSIV:
		return newESSIV(cipherAlg, hashAlg, key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedIVGen, alg)
	}
}

// plainIV is the little-endian low 32 bits of the sector number
type plainIV struct{}

func (plainIV) calculate(sector uint64, iv []byte) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(sector&0xffffffff)) // #nosec G115 -- truncation is the plain IV definition
	fillIV(iv, buf[:])
}

func (plainIV) close() {}

// plain64IV is the little-endian 64-bit sector number
type plain64IV struct{}

func (plain64IV) calculate(sector uint64, iv []byte) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sector)
	fillIV(iv, buf[:])
}

func (plain64IV) close() {}

// essivIV encrypts the sector number under a key derived by hashing the
// sector cipher key
type essivIV struct {
	block cipher.Block
	salt  []byte
	data  []byte
}

func newESSIV(cipherAlg CipherAlgorithm, hashAlg HashAlgorithm, key []byte) (*essivIV, error) {
	newHash, err := hashAlg.newHash()
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(key)
	salt := h.Sum(nil)

	keyLen := min(len(salt), cipherAlg.KeyLen())
	block, err := newBlock(cipherAlg, salt[:keyLen])
	if err != nil {
		clearBytes(salt)
		return nil, err
	}
	return &essivIV{block: block, salt: salt, data: make([]byte, block.BlockSize())}, nil
}

func (e *essivIV) calculate(sector uint64, iv []byte) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sector)
	fillIV(e.data, buf[:])
	e.block.Encrypt(e.data, e.data)
	fillIV(iv, e.data)
}

func (e *essivIV) close() {
	clearBytes(e.salt)
	clearBytes(e.data)
}

// fillIV copies src into iv, truncating or zero padding as needed
func fillIV(iv, src []byte) {
	n := copy(iv, src)
	clear(iv[n:])
}
