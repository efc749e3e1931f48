// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RecoveryKeyLength is the default length for recovery keys (32 bytes = 256 bits)
const RecoveryKeyLength = 32

// RecoveryKeyFormat specifies the textual form of a recovery key. The
// formatted text, not the raw bytes, is what gets stored in the key slot,
// since LUKS1 passwords must be valid UTF-8.
type RecoveryKeyFormat string

const (
	RecoveryKeyFormatHex    RecoveryKeyFormat = "hex"
	RecoveryKeyFormatBase64 RecoveryKeyFormat = "base64"

	// RecoveryKeyFormatDashed outputs dash separated hex groups
	RecoveryKeyFormatDashed RecoveryKeyFormat = "dashed"
)

// RecoveryKey represents a generated recovery key
type RecoveryKey struct {
	// Key is the raw key bytes (sensitive - clear after use)
	Key []byte

	// Formatted is the passphrase stored in the key slot
	Formatted string

	Format RecoveryKeyFormat

	// KeyHash is a SHA-256 hash of the key for verification
	KeyHash string

	CreatedAt  time.Time
	VolumeUUID string
	Keyslot    int

	// SaveError is set when the key was added to the volume but could not
	// be written to OutputPath
	SaveError error
}

// RecoveryKeyOptions contains options for recovery key generation
type RecoveryKeyOptions struct {
	// Length is the key length in bytes (default: 32)
	Length int

	// Format is the output format (default: dashed)
	Format RecoveryKeyFormat

	// Keyslot specifies which keyslot to use (nil = first free)
	Keyslot *int

	// OutputPath is where to save the recovery key (optional)
	OutputPath string

	// IterTime is the PBKDF2 budget for the recovery slot
	IterTime time.Duration

	KDF KeyDerivation
}

// GenerateRecoveryKey generates a cryptographically secure recovery key
func GenerateRecoveryKey(length int, format RecoveryKeyFormat) (*RecoveryKey, error) {
	if length <= 0 {
		length = RecoveryKeyLength
	}
	if format == "" {
		format = RecoveryKeyFormatDashed
	}

	key, err := randomBytes(rand.Reader, length)
	if err != nil {
		return nil, err
	}

	var formatted string
	switch format {
	case RecoveryKeyFormatHex:
		formatted = hex.EncodeToString(key)
	case RecoveryKeyFormatBase64:
		formatted = base64.StdEncoding.EncodeToString(key)
	case RecoveryKeyFormatDashed:
		formatted = formatDashedKey(key)
	default:
		clearBytes(key)
		return nil, configErrorf("unknown recovery key format '%s'", format)
	}

	hash := sha256.Sum256(key)
	return &RecoveryKey{
		Key:       key,
		Formatted: formatted,
		Format:    format,
		KeyHash:   hex.EncodeToString(hash[:]),
		CreatedAt: time.Now(),
	}, nil
}

// AddRecoveryKey generates a recovery key and adds its formatted text to
// a keyslot, unlocking the volume with existingPassphrase
func AddRecoveryKey(device string, existingPassphrase []byte, opts *RecoveryKeyOptions) (*RecoveryKey, error) {
	if opts == nil {
		opts = &RecoveryKeyOptions{}
	}

	recoveryKey, err := GenerateRecoveryKey(opts.Length, opts.Format)
	if err != nil {
		return nil, err
	}

	slot, err := AddKey(device, existingPassphrase, []byte(recoveryKey.Formatted), &AddKeyOptions{
		Keyslot:  opts.Keyslot,
		IterTime: opts.IterTime,
		KDF:      opts.KDF,
	})
	if err != nil {
		recoveryKey.Clear()
		return nil, fmt.Errorf("failed to add recovery key: %w", err)
	}
	recoveryKey.Keyslot = slot

	if info, err := GetVolumeInfo(device); err == nil {
		recoveryKey.VolumeUUID = info.UUID
	}

	if opts.OutputPath != "" {
		if err := SaveRecoveryKey(recoveryKey, opts.OutputPath); err != nil {
			recoveryKey.SaveError = fmt.Errorf("failed to save recovery key to %s: %w", opts.OutputPath, err)
		}
	}

	log().Info("added recovery key", "uuid", recoveryKey.VolumeUUID, "slot", slot)
	return recoveryKey, nil
}

// SaveRecoveryKey saves a recovery key to a file readable only by its owner
func SaveRecoveryKey(key *RecoveryKey, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var content strings.Builder
	content.WriteString("# LUKS1 Recovery Key\n")
	content.WriteString("# IMPORTANT: Store this key in a safe location!\n")
	content.WriteString("# It unlocks the encrypted volume if every passphrase is lost.\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Volume UUID: %s\n", key.VolumeUUID)
	fmt.Fprintf(&content, "# Keyslot: %d\n", key.Keyslot)
	fmt.Fprintf(&content, "# Created: %s\n", key.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&content, "# Key Hash (SHA-256): %s\n", key.KeyHash)
	content.WriteString("#\n")
	content.WriteString("# Recovery Key:\n")
	content.WriteString(key.Formatted)
	content.WriteString("\n")

	if err := os.WriteFile(path, []byte(content.String()), 0400); err != nil {
		return fmt.Errorf("failed to write recovery key: %w", err)
	}
	return nil
}

// LoadRecoveryKey returns the recovery passphrase stored in a file
// written by SaveRecoveryKey
func LoadRecoveryKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-provided path for recovery key file
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery key file: %w", err)
	}
	defer clearBytes(data)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return []byte(line), nil
	}
	return nil, fmt.Errorf("no recovery key found in file")
}

// ParseRecoveryKey decodes the raw key bytes from a formatted recovery key
func ParseRecoveryKey(formatted string) ([]byte, error) {
	formatted = strings.TrimSpace(formatted)

	if strings.Contains(formatted, "-") {
		return decodeHex(strings.ReplaceAll(formatted, "-", ""))
	}

	isHex := true
	for _, c := range strings.ToLower(formatted) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			isHex = false
			break
		}
	}
	if isHex && len(formatted)%2 == 0 {
		if key, err := decodeHex(formatted); err == nil {
			return key, nil
		}
	}
	if strings.HasSuffix(formatted, "=") || !isHex {
		if key, err := base64.StdEncoding.DecodeString(formatted); err == nil {
			return key, nil
		}
	}
	return decodeHex(formatted)
}

// formatDashedKey formats a key as dash separated groups of six upper
// case hex digits
func formatDashedKey(key []byte) string {
	hexStr := hex.EncodeToString(key)
	const groupSize = 6

	var groups []string
	for i := 0; i < len(hexStr); i += groupSize {
		end := min(i+groupSize, len(hexStr))
		groups = append(groups, strings.ToUpper(hexStr[i:end]))
	}
	return strings.Join(groups, "-")
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ToLower(strings.TrimSpace(s)))
}

// Clear clears the sensitive key material from memory
func (r *RecoveryKey) Clear() {
	if r.Key != nil {
		clearBytes(r.Key)
		r.Key = nil
	}
	r.Formatted = ""
}
