// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

// AFSplit performs anti-forensic information splitting. The secret is
// expanded into stripes blocks of len(secret) bytes; every block is needed
// to recover it. The first stripes-1 blocks are read from random.
func AFSplit(hashAlg HashAlgorithm, secret []byte, stripes int, random io.Reader) ([]byte, error) {
	if stripes < 1 {
		return nil, fmt.Errorf("stripes must be positive, got %d", stripes)
	}
	newHash, err := hashAlg.newHash()
	if err != nil {
		return nil, err
	}

	blockLen := len(secret)
	result := make([]byte, blockLen*stripes)

	randomLen := blockLen * (stripes - 1)
	if _, err := io.ReadFull(random, result[:randomLen]); err != nil {
		clearBytes(result)
		return nil, &CryptoError{Op: "af split", Err: fmt.Errorf("failed to generate random stripes: %w", err)}
	}

	block := make([]byte, blockLen)
	defer clearBytes(block)
	d := newDiffuser(newHash)
	for i := 0; i < stripes-1; i++ {
		xorBytes(result[i*blockLen:(i+1)*blockLen], block, block)
		d.diffuse(block)
	}
	xorBytes(secret, block, result[randomLen:])

	return result, nil
}

// AFMerge recovers a blockLen byte secret from split data produced by AFSplit
func AFMerge(hashAlg HashAlgorithm, split []byte, stripes int, blockLen int) ([]byte, error) {
	if stripes < 1 {
		return nil, fmt.Errorf("stripes must be positive, got %d", stripes)
	}
	if blockLen < 0 || len(split) != blockLen*stripes {
		return nil, fmt.Errorf("invalid split data size %d for %d stripes of %d bytes", len(split), stripes, blockLen)
	}
	newHash, err := hashAlg.newHash()
	if err != nil {
		return nil, err
	}

	block := make([]byte, blockLen)
	defer clearBytes(block)
	d := newDiffuser(newHash)
	for i := 0; i < stripes-1; i++ {
		xorBytes(split[i*blockLen:(i+1)*blockLen], block, block)
		d.diffuse(block)
	}

	result := make([]byte, blockLen)
	xorBytes(split[(stripes-1)*blockLen:], block, result)
	return result, nil
}

type diffuser struct {
	h      hash.Hash
	digest []byte
	index  [4]byte
}

func newDiffuser(newHash func() hash.Hash) *diffuser {
	h := newHash()
	return &diffuser{h: h, digest: make([]byte, 0, h.Size())}
}

// diffuse replaces every digest sized chunk of buf with
// H(be32(chunk index) || chunk). A trailing short chunk receives a
// truncated digest.
func (d *diffuser) diffuse(buf []byte) {
	size := d.h.Size()
	for i, off := 0, 0; off < len(buf); i, off = i+1, off+size {
		end := off + size
		if end > len(buf) {
			end = len(buf)
		}
		d.h.Reset()
		binary.BigEndian.PutUint32(d.index[:], uint32(i)) // #nosec G115 -- chunk count bounded by key length
		d.h.Write(d.index[:])
		d.h.Write(buf[off:end])
		d.digest = d.h.Sum(d.digest[:0])
		copy(buf[off:end], d.digest)
	}
	clearBytes(d.digest[:cap(d.digest)])
}
