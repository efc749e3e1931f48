// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package luks1

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var (
	devicePass  = []byte("device-passphrase")
	devicePass2 = []byte("second-passphrase")
)

// formatTestDevice formats a fresh image file and returns its path
func formatTestDevice(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "luks1.img")
	if _, err := Format(FormatOptions{Device: path, Passphrase: devicePass, KDF: newTestKDF()}); err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	return path
}

func TestFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "luks1.img")
	info, err := Format(FormatOptions{
		Device:     path,
		Passphrase: devicePass,
		CipherMode: ModeCBC,
		IVGenAlg:   IVGenESSIV,
		KDF:        newTestKDF(),
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if info.CipherMode != ModeCBC || info.IVGenAlg != IVGenESSIV || info.IVGenHashAlg != HashSHA256 {
		t.Errorf("unexpected algorithms %+v", info)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if uint64(stat.Size()) != info.PayloadOffset {
		t.Errorf("expected image size %d, got %d", info.PayloadOffset, stat.Size())
	}

	isLUKS, err := IsLUKS(path)
	if err != nil || !isLUKS {
		t.Fatalf("IsLUKS = %v, %v", isLUKS, err)
	}

	read, err := GetVolumeInfo(path)
	if err != nil {
		t.Fatalf("GetVolumeInfo failed: %v", err)
	}
	if read.UUID != info.UUID || read.PayloadOffset != info.PayloadOffset {
		t.Errorf("GetVolumeInfo disagrees with Format: %+v vs %+v", read, info)
	}
}

func TestFormatErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "luks1.img")
	if _, err := Format(FormatOptions{Device: path, KDF: newTestKDF()}); !errors.Is(err, ErrPassphraseTooShort) {
		t.Errorf("expected ErrPassphraseTooShort, got %v", err)
	}
	if _, err := Format(FormatOptions{Device: "relative.img", Passphrase: devicePass}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
	_, err := Format(FormatOptions{Device: path, Passphrase: devicePass, CipherAlg: CipherCAST5, CipherMode: ModeXTS, KDF: newTestKDF()})
	var derr *DeviceError
	if !errors.As(err, &derr) || !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected configuration DeviceError, got %v", err)
	}
}

func TestIsLUKS(t *testing.T) {
	dir := t.TempDir()

	zeros := filepath.Join(dir, "zeros.img")
	if err := os.WriteFile(zeros, make([]byte, 4096), 0600); err != nil {
		t.Fatal(err)
	}
	if ok, err := IsLUKS(zeros); err != nil || ok {
		t.Errorf("IsLUKS(zeros) = %v, %v", ok, err)
	}

	short := filepath.Join(dir, "short.img")
	if err := os.WriteFile(short, []byte("LUKS"), 0600); err != nil {
		t.Fatal(err)
	}
	if ok, err := IsLUKS(short); err != nil || ok {
		t.Errorf("IsLUKS(short) = %v, %v", ok, err)
	}

	if _, err := IsLUKS(filepath.Join(dir, "missing.img")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestGetVolumeInfoNotLUKS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.img")
	if err := os.WriteFile(path, make([]byte, 8192), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := GetVolumeInfo(path); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestAddKey(t *testing.T) {
	path := formatTestDevice(t)

	slot, err := AddKey(path, devicePass, devicePass2, &AddKeyOptions{KDF: newTestKDF()})
	if err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}
	if slot != 1 {
		t.Errorf("expected slot 1, got %d", slot)
	}

	slot, err = AddKey(path, devicePass2, []byte("third"), &AddKeyOptions{Keyslot: KeyslotIndex(6), KDF: newTestKDF()})
	if err != nil || slot != 6 {
		t.Fatalf("AddKey to slot 6 = %d, %v", slot, err)
	}

	info, err := GetVolumeInfo(path)
	if err != nil {
		t.Fatalf("GetVolumeInfo failed: %v", err)
	}
	if got := info.ActiveSlots(); len(got) != 3 || got[1] != 1 || got[2] != 6 {
		t.Errorf("expected slots [0 1 6], got %v", got)
	}

	if _, err := AddKey(path, []byte("wrong"), []byte("x"), &AddKeyOptions{KDF: newTestKDF()}); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("expected ErrInvalidPassphrase, got %v", err)
	}
	if _, err := AddKey(path, devicePass, []byte("x"), &AddKeyOptions{Keyslot: KeyslotIndex(1), KDF: newTestKDF()}); !errors.Is(err, ErrPolicy) {
		t.Errorf("expected ErrPolicy for an active slot, got %v", err)
	}
	if _, err := AddKey(path, devicePass, nil, nil); !errors.Is(err, ErrPassphraseTooShort) {
		t.Errorf("expected ErrPassphraseTooShort, got %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	path := formatTestDevice(t)

	plaintext := bytes.Repeat([]byte("The quick brown fox. "), 100) // not sector aligned
	n, err := WritePayload(path, devicePass, bytes.NewReader(plaintext))
	if err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}
	if n != int64(len(plaintext)) {
		t.Errorf("expected %d bytes written, got %d", len(plaintext), n)
	}

	info, err := GetVolumeInfo(path)
	if err != nil {
		t.Fatalf("GetVolumeInfo failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	padded := alignTo(uint64(len(plaintext)), SectorSize)
	if uint64(len(raw)) != info.PayloadOffset+padded {
		t.Errorf("expected image size %d, got %d", info.PayloadOffset+padded, len(raw))
	}
	if bytes.Contains(raw, []byte("quick brown fox")) {
		t.Error("plaintext found on disk")
	}

	var out bytes.Buffer
	n, err = ReadPayload(path, devicePass, &out, int64(len(plaintext)))
	if err != nil {
		t.Fatalf("ReadPayload failed: %v", err)
	}
	if n != int64(len(plaintext)) || !bytes.Equal(out.Bytes(), plaintext) {
		t.Error("payload round trip mismatch")
	}

	out.Reset()
	if _, err := ReadPayload(path, devicePass, &out, -1); err != nil {
		t.Fatalf("ReadPayload failed: %v", err)
	}
	if uint64(out.Len()) != padded || !bytes.Equal(out.Bytes()[:len(plaintext)], plaintext) {
		t.Error("expected whole payload with zero padding")
	}

	if _, err := ReadPayload(path, []byte("wrong"), &out, -1); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("expected ErrInvalidPassphrase, got %v", err)
	}
}

func TestRemoveKey(t *testing.T) {
	path := formatTestDevice(t)
	if _, err := AddKey(path, devicePass, devicePass2, &AddKeyOptions{KDF: newTestKDF()}); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}

	if err := RemoveKey(path, devicePass, false); err != nil {
		t.Fatalf("RemoveKey failed: %v", err)
	}
	info, _ := GetVolumeInfo(path)
	if got := info.ActiveSlots(); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected only slot 1 active, got %v", got)
	}

	if err := RemoveKey(path, devicePass2, false); !errors.Is(err, ErrPolicy) {
		t.Errorf("expected ErrPolicy removing the last key, got %v", err)
	}
	if err := RemoveKey(path, devicePass, false); !errors.Is(err, ErrPolicy) {
		t.Errorf("expected ErrPolicy for a passphrase in no slot, got %v", err)
	}
	if err := RemoveKey(path, devicePass2, true); err != nil {
		t.Fatalf("forced RemoveKey failed: %v", err)
	}
	info, _ = GetVolumeInfo(path)
	if len(info.ActiveSlots()) != 0 {
		t.Errorf("expected no active slots, got %v", info.ActiveSlots())
	}
}

func TestKillKeyslot(t *testing.T) {
	path := formatTestDevice(t)
	if _, err := AddKey(path, devicePass, devicePass2, &AddKeyOptions{KDF: newTestKDF()}); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}

	if err := KillKeyslot(path, 1, []byte("wrong"), false); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("expected ErrInvalidPassphrase, got %v", err)
	}
	// any remaining passphrase authorizes the erase
	if err := KillKeyslot(path, 1, devicePass, false); err != nil {
		t.Fatalf("KillKeyslot failed: %v", err)
	}
	if err := KillKeyslot(path, 1, nil, false); !errors.Is(err, ErrPolicy) {
		t.Errorf("expected ErrPolicy for an inactive slot, got %v", err)
	}
	if err := KillKeyslot(path, 0, nil, false); !errors.Is(err, ErrPolicy) {
		t.Errorf("expected ErrPolicy for the last slot, got %v", err)
	}
	if err := KillKeyslot(path, 9, nil, true); !errors.Is(err, ErrInvalidKeyslot) {
		t.Errorf("expected ErrInvalidKeyslot, got %v", err)
	}
	if err := KillKeyslot(path, 0, nil, true); err != nil {
		t.Fatalf("forced KillKeyslot failed: %v", err)
	}
}

func TestChangeKey(t *testing.T) {
	mockTimeExecution(t, time.Millisecond)
	path := formatTestDevice(t)

	if _, err := ChangeKey(path, []byte("wrong"), devicePass2, 0); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("expected ErrInvalidPassphrase, got %v", err)
	}
	if _, err := ChangeKey(path, devicePass, devicePass2, 8); !errors.Is(err, ErrInvalidKeyslot) {
		t.Errorf("expected ErrInvalidKeyslot, got %v", err)
	}
	slot, err := ChangeKey(path, devicePass, devicePass2, 0)
	if err != nil {
		t.Fatalf("ChangeKey failed: %v", err)
	}
	if slot != 1 {
		t.Errorf("expected new passphrase in free slot 1, got %d", slot)
	}

	var out bytes.Buffer
	if _, err := ReadPayload(path, devicePass, &out, 0); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("expected old passphrase to fail, got %v", err)
	}
	if _, err := ReadPayload(path, devicePass2, &out, 0); err != nil {
		t.Errorf("expected new passphrase to unlock, got %v", err)
	}

	info, _ := GetVolumeInfo(path)
	if got := info.ActiveSlots(); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected only slot 1 active, got %v", got)
	}
}

// TestChangeKeyFailureKeepsOldKey tests that the old keyslot survives when
// the new key cannot be written
func TestChangeKeyFailureKeepsOldKey(t *testing.T) {
	mockTimeExecution(t, time.Millisecond)
	path := formatTestDevice(t)

	if _, err := ChangeKey(path, devicePass, nil, 0); err == nil {
		t.Fatal("expected ChangeKey to reject an empty passphrase")
	}
	if _, err := ReadPayload(path, devicePass, &bytes.Buffer{}, 0); err != nil {
		t.Errorf("expected old passphrase to still unlock, got %v", err)
	}
}

// TestChangeKeyInPlace tests the fallback used when every keyslot is taken
func TestChangeKeyInPlace(t *testing.T) {
	mockTimeExecution(t, time.Millisecond)
	path := formatTestDevice(t)

	for i := 1; i < NumKeySlots; i++ {
		if _, err := AddKey(path, devicePass, []byte(fmt.Sprintf("filler-%d", i)), &AddKeyOptions{KDF: newTestKDF()}); err != nil {
			t.Fatalf("AddKey %d failed: %v", i, err)
		}
	}

	slot, err := ChangeKey(path, []byte("filler-3"), devicePass2, 3)
	if err != nil {
		t.Fatalf("ChangeKey failed: %v", err)
	}
	if slot != 3 {
		t.Errorf("expected in-place change of slot 3, got %d", slot)
	}
	if _, err := ReadPayload(path, []byte("filler-3"), &bytes.Buffer{}, 0); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("expected old passphrase to fail, got %v", err)
	}
	if _, err := ReadPayload(path, devicePass2, &bytes.Buffer{}, 0); err != nil {
		t.Errorf("expected new passphrase to unlock, got %v", err)
	}
	info, _ := GetVolumeInfo(path)
	if got := len(info.ActiveSlots()); got != NumKeySlots {
		t.Errorf("expected %d active slots, got %d", NumKeySlots, got)
	}
}

func TestAddRecoveryKey(t *testing.T) {
	path := formatTestDevice(t)
	keyFile := filepath.Join(t.TempDir(), "recovery.txt")

	rk, err := AddRecoveryKey(path, devicePass, &RecoveryKeyOptions{OutputPath: keyFile, KDF: newTestKDF()})
	if err != nil {
		t.Fatalf("AddRecoveryKey failed: %v", err)
	}
	defer rk.Clear()

	if rk.Keyslot != 1 || rk.SaveError != nil {
		t.Errorf("unexpected recovery key state: slot %d, save error %v", rk.Keyslot, rk.SaveError)
	}
	info, _ := GetVolumeInfo(path)
	if rk.VolumeUUID != info.UUID {
		t.Errorf("expected UUID %s, got %s", info.UUID, rk.VolumeUUID)
	}

	passphrase, err := LoadRecoveryKey(keyFile)
	if err != nil {
		t.Fatalf("LoadRecoveryKey failed: %v", err)
	}
	var out bytes.Buffer
	if _, err := ReadPayload(path, passphrase, &out, 0); err != nil {
		t.Errorf("recovery key did not unlock the volume: %v", err)
	}
}

func TestWipe(t *testing.T) {
	t.Run("header only", func(t *testing.T) {
		path := formatTestDevice(t)
		payload := bytes.Repeat([]byte{0x5a}, 4*SectorSize)
		if _, err := WritePayload(path, devicePass, bytes.NewReader(payload)); err != nil {
			t.Fatalf("WritePayload failed: %v", err)
		}
		info, _ := GetVolumeInfo(path)
		before, _ := os.ReadFile(path)

		if err := Wipe(WipeOptions{Device: path, HeaderOnly: true, Random: true}); err != nil {
			t.Fatalf("Wipe failed: %v", err)
		}

		after, _ := os.ReadFile(path)
		if ok, _ := IsLUKS(path); ok {
			t.Error("expected header to be destroyed")
		}
		if !bytes.Equal(before[info.PayloadOffset:], after[info.PayloadOffset:]) {
			t.Error("expected payload to be untouched")
		}
	})

	t.Run("full", func(t *testing.T) {
		path := formatTestDevice(t)
		if err := Wipe(WipeOptions{Device: path, Passes: 2}); err != nil {
			t.Fatalf("Wipe failed: %v", err)
		}
		data, _ := os.ReadFile(path)
		if !bytes.Equal(data, make([]byte, len(data))) {
			t.Error("expected device to be zeroed")
		}
	})

	t.Run("header only on non-LUKS", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain.img")
		if err := os.WriteFile(path, make([]byte, 4096), 0600); err != nil {
			t.Fatal(err)
		}
		if err := Wipe(WipeOptions{Device: path, HeaderOnly: true}); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("invalid passes", func(t *testing.T) {
		if err := Wipe(WipeOptions{Device: "/nonexistent", Passes: -1}); !errors.Is(err, ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("empty device", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.img")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		if err := Wipe(WipeOptions{Device: path}); err == nil {
			t.Error("expected error for empty device")
		}
	})
}
