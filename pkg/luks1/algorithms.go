// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"  // #nosec G501 -- md5 is a legal LUKS1 hash_spec
	"crypto/sha1" // #nosec G505 -- sha1 is the historical LUKS1 default
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/Picocrypt/serpent"
	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // legal LUKS1 hash_spec
	"golang.org/x/crypto/twofish"
)

// CipherAlgorithm identifies a block cipher together with its key size
type CipherAlgorithm int

const (
	CipherAES128 CipherAlgorithm = iota + 1
	CipherAES192
	CipherAES256
	CipherCAST5
	CipherSerpent128
	CipherSerpent192
	CipherSerpent256
	CipherTwofish128
	CipherTwofish192
	CipherTwofish256
)

// CipherMode identifies a block cipher mode of operation
type CipherMode int

const (
	ModeECB CipherMode = iota + 1
	ModeCBC
	ModeXTS
	ModeCTR
)

// IVGenAlgorithm identifies a per-sector IV generator
type IVGenAlgorithm int

const (
	IVGenPlain IVGenAlgorithm = iota + 1
	IVGenPlain64
	IVGenESSIV
)

// HashAlgorithm identifies a hash used for PBKDF2, AF diffusion and ESSIV
type HashAlgorithm int

const (
	HashMD5 HashAlgorithm = iota + 1
	HashSHA1
	HashSHA224
	HashSHA256
	HashSHA384
	HashSHA512
	HashRIPEMD160
)

type cipherAlgInfo struct {
	name     string
	family   string
	keyLen   int
	newBlock func(key []byte) (cipher.Block, error)
}

func newCAST5(key []byte) (cipher.Block, error) {
	return cast5.NewCipher(key)
}

func newTwofish(key []byte) (cipher.Block, error) {
	return twofish.NewCipher(key)
}

var cipherAlgs = map[CipherAlgorithm]cipherAlgInfo{
	CipherAES128:     {"aes-128", "aes", 16, aes.NewCipher},
	CipherAES192:     {"aes-192", "aes", 24, aes.NewCipher},
	CipherAES256:     {"aes-256", "aes", 32, aes.NewCipher},
	CipherCAST5:      {"cast5-128", "cast5", 16, newCAST5},
	CipherSerpent128: {"serpent-128", "serpent", 16, serpent.NewCipher},
	CipherSerpent192: {"serpent-192", "serpent", 24, serpent.NewCipher},
	CipherSerpent256: {"serpent-256", "serpent", 32, serpent.NewCipher},
	CipherTwofish128: {"twofish-128", "twofish", 16, newTwofish},
	CipherTwofish192: {"twofish-192", "twofish", 24, newTwofish},
	CipherTwofish256: {"twofish-256", "twofish", 32, newTwofish},
}

// essivFamilies lists the ciphers ESSIV may switch between when the IV
// hash digest length differs from the payload key length
var essivFamilies = map[string][]CipherAlgorithm{
	"aes":     {CipherAES128, CipherAES192, CipherAES256},
	"serpent": {CipherSerpent128, CipherSerpent192, CipherSerpent256},
	"twofish": {CipherTwofish128, CipherTwofish192, CipherTwofish256},
}

var essivFamilyNames = map[string]string{
	"aes":     "AES",
	"serpent": "Serpent",
	"twofish": "Twofish",
}

var cipherModes = map[CipherMode]string{
	ModeECB: "ecb",
	ModeCBC: "cbc",
	ModeXTS: "xts",
	ModeCTR: "ctr",
}

var ivgenAlgs = map[IVGenAlgorithm]string{
	IVGenPlain:   "plain",
	IVGenPlain64: "plain64",
	IVGenESSIV:   "essiv",
}

type hashAlgInfo struct {
	name string
	size int
	new  func() hash.Hash
}

var hashAlgs = map[HashAlgorithm]hashAlgInfo{
	HashMD5:       {"md5", md5.Size, md5.New},
	HashSHA1:      {"sha1", sha1.Size, sha1.New},
	HashSHA224:    {"sha224", sha256.Size224, sha256.New224},
	HashSHA256:    {"sha256", sha256.Size, sha256.New},
	HashSHA384:    {"sha384", sha512.Size384, sha512.New384},
	HashSHA512:    {"sha512", sha512.Size, sha512.New},
	HashRIPEMD160: {"ripemd160", ripemd160.Size, ripemd160.New},
}

func (a CipherAlgorithm) String() string {
	if info, ok := cipherAlgs[a]; ok {
		return info.name
	}
	return fmt.Sprintf("cipher(%d)", int(a))
}

// KeyLen returns the key length in bytes, or 0 for an unknown algorithm
func (a CipherAlgorithm) KeyLen() int {
	return cipherAlgs[a].keyLen
}

func (a CipherAlgorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (m CipherMode) String() string {
	if name, ok := cipherModes[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m CipherMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (g IVGenAlgorithm) String() string {
	if name, ok := ivgenAlgs[g]; ok {
		return name
	}
	return fmt.Sprintf("ivgen(%d)", int(g))
}

func (g IVGenAlgorithm) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (h HashAlgorithm) String() string {
	if info, ok := hashAlgs[h]; ok {
		return info.name
	}
	return fmt.Sprintf("hash(%d)", int(h))
}

// Size returns the digest length in bytes, or 0 for an unknown algorithm
func (h HashAlgorithm) Size() int {
	return hashAlgs[h].size
}

func (h HashAlgorithm) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Available reports whether the hash can be instantiated
func (h HashAlgorithm) Available() bool {
	_, ok := hashAlgs[h]
	return ok
}

func (h HashAlgorithm) newHash() (func() hash.Hash, error) {
	info, ok := hashAlgs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, h)
	}
	return info.new, nil
}

// ParseCipherAlgorithm resolves names such as "aes-256" or "twofish-128"
func ParseCipherAlgorithm(name string) (CipherAlgorithm, error) {
	for alg, info := range cipherAlgs {
		if info.name == name {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedCipher, name)
}

// ParseCipherMode resolves a mode name such as "xts"
func ParseCipherMode(name string) (CipherMode, error) {
	for mode, n := range cipherModes {
		if n == name {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: cipher mode %s not supported", ErrUnsupportedMode, name)
}

// ParseIVGenAlgorithm resolves an IV generator name such as "essiv"
func ParseIVGenAlgorithm(name string) (IVGenAlgorithm, error) {
	for alg, n := range ivgenAlgs {
		if n == name {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("%w: IV generator %s not supported", ErrUnsupportedIVGen, name)
}

// ParseHashAlgorithm resolves a hash name such as "sha256"
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	for alg, info := range hashAlgs {
		if info.name == name {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("%w: hash algorithm %s not supported", ErrUnsupportedHash, name)
}

// lookupHeaderCipher resolves a header cipher_name for a given master key
// length. XTS keys carry two sub-keys so the length is halved first.
func lookupHeaderCipher(name string, mode CipherMode, keyBytes uint32) (CipherAlgorithm, error) {
	if mode == ModeXTS {
		keyBytes /= 2
	}
	for alg, info := range cipherAlgs {
		if info.family == name && uint32(info.keyLen) == keyBytes { // #nosec G115 -- table key lengths are at most 32
			return alg, nil
		}
	}
	return 0, fmt.Errorf("%w: algorithm '%s' with key size %d bytes not supported", ErrUnsupportedCipher, name, keyBytes)
}

// headerCipherName returns the cipher_name written for an algorithm
func headerCipherName(alg CipherAlgorithm) (string, error) {
	info, ok := cipherAlgs[alg]
	if !ok {
		return "", fmt.Errorf("%w: algorithm '%s' not supported", ErrUnsupportedCipher, alg)
	}
	return info.family, nil
}

// essivCipher selects the cipher used by the ESSIV generator. The ESSIV
// key is a digest, so its length follows the hash rather than the payload
// cipher.
func essivCipher(alg CipherAlgorithm, hashAlg HashAlgorithm) (CipherAlgorithm, error) {
	info, ok := cipherAlgs[alg]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCipher, alg)
	}
	digestLen := hashAlg.Size()
	if digestLen == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedHash, hashAlg)
	}
	if digestLen == info.keyLen {
		return alg, nil
	}

	family, ok := essivFamilies[info.family]
	if !ok {
		return 0, configErrorf("cipher %s not supported with essiv", alg)
	}
	for _, candidate := range family {
		if cipherAlgs[candidate].keyLen == digestLen {
			return candidate, nil
		}
	}
	return 0, configErrorf("no %s cipher with key size %d available", essivFamilyNames[info.family], digestLen)
}

// ivLen returns the IV length for a cipher and mode
func ivLen(alg CipherAlgorithm, mode CipherMode) (int, error) {
	if mode == ModeECB {
		return 0, nil
	}
	block, err := newBlock(alg, make([]byte, alg.KeyLen()))
	if err != nil {
		return 0, err
	}
	return block.BlockSize(), nil
}

func newBlock(alg CipherAlgorithm, key []byte) (cipher.Block, error) {
	info, ok := cipherAlgs[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCipher, alg)
	}
	if len(key) != info.keyLen {
		return nil, configErrorf("%s requires a %d byte key, got %d", info.name, info.keyLen, len(key))
	}
	block, err := info.newBlock(key)
	if err != nil {
		return nil, &CryptoError{Op: "cipher init", Err: err}
	}
	return block, nil
}
