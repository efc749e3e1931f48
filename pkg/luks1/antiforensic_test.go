// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package luks1

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"testing"

	"maze.io/x/crypto/afis"
)

// TestAFSplitKnownAnswer tests byte-exact split output for fixed stripe
// data. The second vector has a block length that is not a multiple of the
// digest size, which exercises the truncated final chunk.
func TestAFSplitKnownAnswer(t *testing.T) {
	tests := []struct {
		name     string
		hashAlg  HashAlgorithm
		blockLen int
		stripes  int
		random   string
		split    string
	}{
		{
			name:     "sha256_32byte_5stripes",
			hashAlg:  HashSHA256,
			blockLen: 32,
			stripes:  5,
			random: "f7c7701d0117e9f1f0ce9508abb11519c45a3c0407fcc90458a59f7b9d762617" +
				"2eb61dd803807ce1f73f10aa8ae9771199ac1683940b45d38e10a54d7bd95a44" +
				"3fa7ee3374e087aa04f18212015524b579a8602a0d13967f29138e372406ef58" +
				"c51cf48724ab4e740a6a46a9ce0a2d45274cf4d827c7d5760a9062c3597e5795",
			split: "f7c7701d0117e9f1f0ce9508abb11519c45a3c0407fcc90458a59f7b9d762617" +
				"2eb61dd803807ce1f73f10aa8ae9771199ac1683940b45d38e10a54d7bd95a44" +
				"3fa7ee3374e087aa04f18212015524b579a8602a0d13967f29138e372406ef58" +
				"c51cf48724ab4e740a6a46a9ce0a2d45274cf4d827c7d5760a9062c3597e5795" +
				"b65bce575d3f188c13f7b6311d2e37d8a8a609e158ad0ee465e891768d9e7a56",
		},
		{
			name:     "sha1_50byte_3stripes",
			hashAlg:  HashSHA1,
			blockLen: 50,
			stripes:  3,
			random: "d177790bc8ee78ded198e12b70bbc784d0704b461fc72f6a6fc41ef0871ad4d7" +
				"7c60d1d1a841a431581bb3b3cff62894e8f144f827d9d7fbb852cbc972b81214" +
				"65360ce549cd093881d416caeef0b3ff514ef175109541db12b06df333196531" +
				"b4e2e375",
			split: "d177790bc8ee78ded198e12b70bbc784d0704b461fc72f6a6fc41ef0871ad4d7" +
				"7c60d1d1a841a431581bb3b3cff62894e8f144f827d9d7fbb852cbc972b81214" +
				"65360ce549cd093881d416caeef0b3ff514ef175109541db12b06df333196531" +
				"b4e2e375e3a6d689f0b8e698c56bf6711c52abc09cb10745e0b29034552b6bae" +
				"3b065aa478a3504aa6bfa2cebfa41e7f3cf597b86fb3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret := make([]byte, tt.blockLen)
			for i := range secret {
				secret[i] = byte(i)
			}
			random, err := hex.DecodeString(tt.random)
			if err != nil {
				t.Fatal(err)
			}
			want, err := hex.DecodeString(tt.split)
			if err != nil {
				t.Fatal(err)
			}

			split, err := AFSplit(tt.hashAlg, secret, tt.stripes, bytes.NewReader(random))
			if err != nil {
				t.Fatalf("AFSplit failed: %v", err)
			}
			if !bytes.Equal(split, want) {
				t.Fatalf("AFSplit mismatch\ngot:  %x\nwant: %x", split, want)
			}

			merged, err := AFMerge(tt.hashAlg, want, tt.stripes, tt.blockLen)
			if err != nil {
				t.Fatalf("AFMerge failed: %v", err)
			}
			if !bytes.Equal(merged, secret) {
				t.Fatalf("AFMerge mismatch: got %x", merged)
			}
		})
	}
}

// TestAFSplitMergeRoundTrip tests that AFMerge inverts AFSplit
func TestAFSplitMergeRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		dataSize int
		stripes  int
		hashAlg  HashAlgorithm
	}{
		{"32byte_1stripe_sha256", 32, 1, HashSHA256},
		{"32byte_2stripes_sha256", 32, 2, HashSHA256},
		{"32byte_5stripes_sha256", 32, 5, HashSHA256},
		{"32byte_4000stripes_sha256", 32, 4000, HashSHA256},
		{"64byte_10stripes_sha512", 64, 10, HashSHA512},
		{"16byte_4stripes_sha1", 16, 4, HashSHA1},
		{"20byte_3stripes_ripemd160", 20, 3, HashRIPEMD160},
		{"50byte_7stripes_md5", 50, 7, HashMD5},
		{"33byte_3stripes_sha224", 33, 3, HashSHA224},
		{"48byte_6stripes_sha384", 48, 6, HashSHA384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.dataSize)
			if _, err := rand.Read(data); err != nil {
				t.Fatalf("Failed to generate test data: %v", err)
			}

			split, err := AFSplit(tt.hashAlg, data, tt.stripes, rand.Reader)
			if err != nil {
				t.Fatalf("AFSplit failed: %v", err)
			}
			if len(split) != tt.dataSize*tt.stripes {
				t.Fatalf("Expected split size %d, got %d", tt.dataSize*tt.stripes, len(split))
			}

			merged, err := AFMerge(tt.hashAlg, split, tt.stripes, tt.dataSize)
			if err != nil {
				t.Fatalf("AFMerge failed: %v", err)
			}
			if !bytes.Equal(merged, data) {
				t.Fatal("Merged data does not match original")
			}
		})
	}
}

// TestAFSplitDeterministic tests that the split is a pure function of its
// inputs given the same random stream
func TestAFSplitDeterministic(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 32)

	split1, err := AFSplit(HashSHA256, key, 5, newTestRNG(t, "af"))
	if err != nil {
		t.Fatalf("AFSplit failed: %v", err)
	}
	split2, err := AFSplit(HashSHA256, key, 5, newTestRNG(t, "af"))
	if err != nil {
		t.Fatalf("AFSplit failed: %v", err)
	}
	if !bytes.Equal(split1, split2) {
		t.Fatal("Split output differs for identical random streams")
	}

	split3, err := AFSplit(HashSHA256, key, 5, newTestRNG(t, "other"))
	if err != nil {
		t.Fatalf("AFSplit failed: %v", err)
	}
	if bytes.Equal(split1, split3) {
		t.Fatal("Split output should differ for different random streams")
	}
}

// TestAFSplitSingleStripe tests that one stripe stores the secret as is
func TestAFSplitSingleStripe(t *testing.T) {
	key := []byte("0123456789abcdef")
	split, err := AFSplit(HashSHA256, key, 1, rand.Reader)
	if err != nil {
		t.Fatalf("AFSplit failed: %v", err)
	}
	if !bytes.Equal(split, key) {
		t.Fatalf("Expected %x, got %x", key, split)
	}
}

// TestAFInteroperability tests compatibility with an independent
// implementation in both directions
func TestAFInteroperability(t *testing.T) {
	hashes := []struct {
		alg HashAlgorithm
		fn  func() hash.Hash
	}{
		{HashSHA1, sha1.New},
		{HashSHA256, sha256.New},
		{HashSHA512, sha512.New},
	}

	for _, h := range hashes {
		t.Run(h.alg.String(), func(t *testing.T) {
			key := make([]byte, 64)
			if _, err := rand.Read(key); err != nil {
				t.Fatalf("Failed to generate key: %v", err)
			}

			split, err := AFSplit(h.alg, key, 4000, rand.Reader)
			if err != nil {
				t.Fatalf("AFSplit failed: %v", err)
			}
			merged, err := afis.MergeHash(split, 4000, h.fn)
			if err != nil {
				t.Fatalf("afis.MergeHash failed: %v", err)
			}
			if !bytes.Equal(merged, key) {
				t.Fatal("afis could not merge our split")
			}

			theirs, err := afis.SplitHash(key, 4000, h.fn)
			if err != nil {
				t.Fatalf("afis.SplitHash failed: %v", err)
			}
			merged, err = AFMerge(h.alg, theirs, 4000, len(key))
			if err != nil {
				t.Fatalf("AFMerge failed: %v", err)
			}
			if !bytes.Equal(merged, key) {
				t.Fatal("AFMerge could not merge afis split")
			}
		})
	}
}

// TestAFSplitErrors tests invalid arguments
func TestAFSplitErrors(t *testing.T) {
	data := make([]byte, 32)

	t.Run("zero_stripes", func(t *testing.T) {
		if _, err := AFSplit(HashSHA256, data, 0, rand.Reader); err == nil {
			t.Fatal("Expected error for zero stripes")
		}
	})

	t.Run("negative_stripes", func(t *testing.T) {
		if _, err := AFMerge(HashSHA256, data, -1, 32); err == nil {
			t.Fatal("Expected error for negative stripes")
		}
	})

	t.Run("unknown_hash", func(t *testing.T) {
		_, err := AFSplit(HashAlgorithm(99), data, 2, rand.Reader)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("Expected configuration error, got %v", err)
		}
	})

	t.Run("size_mismatch", func(t *testing.T) {
		if _, err := AFMerge(HashSHA256, make([]byte, 63), 2, 32); err == nil {
			t.Fatal("Expected error for mismatched split size")
		}
	})

	t.Run("rng_failure", func(t *testing.T) {
		_, err := AFSplit(HashSHA256, data, 4, &failingReader{n: 10, err: errors.New("entropy exhausted")})
		if !errors.Is(err, ErrCrypto) {
			t.Fatalf("Expected crypto error, got %v", err)
		}
	})
}
