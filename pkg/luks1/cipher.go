// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/xts"
)

// cipherSpec is the resolved algorithm selection of a volume
type cipherSpec struct {
	cipherAlg      CipherAlgorithm
	cipherMode     CipherMode
	ivgenAlg       IVGenAlgorithm
	ivgenHashAlg   HashAlgorithm
	ivgenCipherAlg CipherAlgorithm
	hashAlg        HashAlgorithm
}

// keyLen returns the master key length, doubled for XTS
func (s *cipherSpec) keyLen() int {
	n := s.cipherAlg.KeyLen()
	if s.cipherMode == ModeXTS {
		n *= 2
	}
	return n
}

// modeString returns the cipher_mode header value
func (s *cipherSpec) modeString() string {
	if s.ivgenHashAlg != 0 {
		return fmt.Sprintf("%s-%s:%s", s.cipherMode, s.ivgenAlg, s.ivgenHashAlg)
	}
	return fmt.Sprintf("%s-%s", s.cipherMode, s.ivgenAlg)
}

// sectorCipher encrypts and decrypts data in 512 byte sectors, computing
// a fresh IV for every sector. It serves both key slot material and
// payload data.
type sectorCipher struct {
	mode     CipherMode
	ivgenAlg IVGenAlgorithm
	block    cipher.Block
	tweak    cipher.Block
	xts      *xts.Cipher
	ivgen    ivGenerator
	iv       []byte
}

func newSectorCipher(spec *cipherSpec, key []byte) (*sectorCipher, error) {
	if len(key) != spec.keyLen() {
		return nil, configErrorf("%s-%s requires a %d byte key, got %d", spec.cipherAlg, spec.cipherMode, spec.keyLen(), len(key))
	}

	c := &sectorCipher{mode: spec.cipherMode, ivgenAlg: spec.ivgenAlg}
	var err error
	switch spec.cipherMode {
	case ModeXTS:
		half := len(key) / 2
		if c.block, err = newBlock(spec.cipherAlg, key[:half]); err != nil {
			return nil, err
		}
		if c.block.BlockSize() != xtsBlockSize {
			return nil, configErrorf("cipher %s does not support xts mode", spec.cipherAlg)
		}
		// ESSIV IVs need the full 16 byte pre-tweak, which x/crypto/xts
		// cannot take
		if spec.ivgenAlg == IVGenESSIV {
			if c.tweak, err = newBlock(spec.cipherAlg, key[half:]); err != nil {
				return nil, err
			}
			break
		}
		c.xts, err = xts.NewCipher(func(k []byte) (cipher.Block, error) {
			return newBlock(spec.cipherAlg, k)
		}, key)
		if err != nil {
			return nil, &CryptoError{Op: "xts init", Err: err}
		}
	case ModeECB, ModeCBC, ModeCTR:
		if c.block, err = newBlock(spec.cipherAlg, key); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, spec.cipherMode)
	}

	n, err := ivLen(spec.cipherAlg, spec.cipherMode)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		c.iv = make([]byte, n)
		c.ivgen, err = newIVGenerator(spec.ivgenAlg, spec.ivgenCipherAlg, spec.ivgenHashAlg, key)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// encrypt transforms buf in place starting at the given sector. The
// final sector may be short if it is a whole number of cipher blocks.
func (c *sectorCipher) encrypt(startSector uint64, buf []byte) error {
	return c.crypt(startSector, buf, true)
}

// decrypt is the inverse of encrypt
func (c *sectorCipher) decrypt(startSector uint64, buf []byte) error {
	return c.crypt(startSector, buf, false)
}

func (c *sectorCipher) crypt(sector uint64, buf []byte, encrypt bool) error {
	bs := c.block.BlockSize()
	if len(buf)%bs != 0 {
		return &CryptoError{Op: "sector crypt", Err: fmt.Errorf("length %d is not a multiple of the %d byte cipher block", len(buf), bs)}
	}

	for off := 0; off < len(buf); off += SectorSize {
		chunk := buf[off:min(off+SectorSize, len(buf))]
		if c.ivgen != nil {
			c.ivgen.calculate(sector, c.iv)
		}

		switch c.mode {
		case ModeECB:
			for i := 0; i < len(chunk); i += bs {
				if encrypt {
					c.block.Encrypt(chunk[i:i+bs], chunk[i:i+bs])
				} else {
					c.block.Decrypt(chunk[i:i+bs], chunk[i:i+bs])
				}
			}
		case ModeCBC:
			if encrypt {
				cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(chunk, chunk)
			} else {
				cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(chunk, chunk)
			}
		case ModeCTR:
			cipher.NewCTR(c.block, c.iv).XORKeyStream(chunk, chunk)
		case ModeXTS:
			if c.ivgenAlg == IVGenESSIV {
				xtsCryptIV(c.block, c.tweak, c.iv, chunk, encrypt)
			} else if encrypt {
				c.xts.Encrypt(chunk, chunk, binary.LittleEndian.Uint64(c.iv[:8]))
			} else {
				c.xts.Decrypt(chunk, chunk, binary.LittleEndian.Uint64(c.iv[:8]))
			}
		}
		sector++
	}
	return nil
}

// close drops key schedules and scrubs IV state
func (c *sectorCipher) close() {
	if c.ivgen != nil {
		c.ivgen.close()
	}
	clearBytes(c.iv)
	c.block, c.tweak, c.xts, c.ivgen = nil, nil, nil, nil
}
