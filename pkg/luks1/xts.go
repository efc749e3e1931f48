// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import "crypto/cipher"

const xtsBlockSize = 16

// xtsCryptIV transforms one sector in XTS mode using a full 16 byte IV as
// the tweak input. golang.org/x/crypto/xts only accepts a 64-bit sector
// number, which cannot express ESSIV output.
func xtsCryptIV(data, tweakKey cipher.Block, iv, buf []byte, encrypt bool) {
	var tweak [xtsBlockSize]byte
	copy(tweak[:], iv)
	tweakKey.Encrypt(tweak[:], tweak[:])

	for i := 0; i+xtsBlockSize <= len(buf); i += xtsBlockSize {
		blk := buf[i : i+xtsBlockSize]
		for j := range blk {
			blk[j] ^= tweak[j]
		}
		if encrypt {
			data.Encrypt(blk, blk)
		} else {
			data.Decrypt(blk, blk)
		}
		for j := range blk {
			blk[j] ^= tweak[j]
		}
		xtsMul2(&tweak)
	}
	clear(tweak[:])
}

// xtsMul2 multiplies the tweak by x in GF(2^128) modulo
// x^128 + x^7 + x^2 + x + 1
func xtsMul2(tweak *[xtsBlockSize]byte) {
	var carryIn byte
	for j := range tweak {
		carryOut := tweak[j] >> 7
		tweak[j] = (tweak[j] << 1) | carryIn
		carryIn = carryOut
	}
	if carryIn != 0 {
		tweak[0] ^= 1<<7 | 1<<2 | 1<<1 | 1
	}
}
