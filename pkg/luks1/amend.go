// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"fmt"
)

// Amend adds or erases key slots. Refused operations return an error
// wrapping ErrPolicy; force overrides the checks that protect active
// slots and the last usable password.
func (v *Volume) Amend(opts AmendOptions, read ReadFunc, write WriteFunc, force bool) error {
	switch opts.State {
	case KeyslotActive:
		return v.activateKeyslot(opts, read, write, force)
	case KeyslotInactive:
		return v.eraseKeyslots(opts, read, write, force)
	default:
		return configErrorf("unknown keyslot state %d", opts.State)
	}
}

func checkKeyslotIndex(slot int) error {
	if slot < 0 || slot >= NumKeySlots {
		return fmt.Errorf("%w %d specified, must be between 0 and %d", ErrInvalidKeyslot, slot, NumKeySlots-1)
	}
	return nil
}

func (v *Volume) activateKeyslot(opts AmendOptions, read ReadFunc, write WriteFunc, force bool) error {
	if opts.NewSecret == "" {
		return policyErrorf("'new-secret' is required to activate a keyslot")
	}
	if opts.OldSecret != "" {
		return policyErrorf("'old-secret' must not be given when activating keyslots")
	}

	var slot int
	if opts.Keyslot != nil {
		slot = *opts.Keyslot
		if err := checkKeyslotIndex(slot); err != nil {
			return err
		}
	} else {
		slot = v.findFreeSlot()
		if slot < 0 {
			return fmt.Errorf("%w: can't add a keyslot - all keyslots are in use", ErrNoFreeKeyslot)
		}
	}

	if !force && v.header.KeySlots[slot].Enabled() {
		return policyErrorf("refusing to overwrite active keyslot %d - please erase it first", slot)
	}

	newPassword, err := lookupPassword(v.secrets, opts.NewSecret)
	if err != nil {
		return err
	}
	defer clearBytes(newPassword)

	secretID := opts.Secret
	if secretID == "" {
		secretID = v.secretID
	}
	oldPassword, err := lookupPassword(v.secrets, secretID)
	if err != nil {
		return err
	}
	defer clearBytes(oldPassword)

	masterKey, _, err := v.findKey(oldPassword, read)
	if err != nil {
		return fmt.Errorf("failed to retrieve the master key: %w", err)
	}
	defer clearBytes(masterKey)

	iterTime := opts.IterTime
	if iterTime == 0 {
		iterTime = DefaultIterTime
	}
	if err := v.storeKey(slot, newPassword, masterKey, iterTime, write); err != nil {
		return err
	}

	log().Info("activated key slot", "uuid", v.UUID(), "slot", slot)
	return nil
}

func (v *Volume) eraseKeyslots(opts AmendOptions, read ReadFunc, write WriteFunc, force bool) error {
	if opts.NewSecret != "" {
		return policyErrorf("'new-secret' must not be given when erasing keyslots")
	}
	if opts.IterTime != 0 {
		return policyErrorf("'iter-time' must not be given when erasing keyslots")
	}

	var oldPassword []byte
	if opts.OldSecret != "" {
		pw, err := lookupPassword(v.secrets, opts.OldSecret)
		if err != nil {
			return err
		}
		oldPassword = pw
		defer clearBytes(oldPassword)
	}

	switch {
	case opts.Keyslot != nil:
		slot := *opts.Keyslot
		if err := checkKeyslotIndex(slot); err != nil {
			return err
		}
		if oldPassword != nil {
			key, ok, err := v.loadKey(slot, oldPassword, read)
			if err != nil {
				return err
			}
			clearBytes(key)
			if !ok {
				return policyErrorf("given keyslot %d doesn't contain the given old password for erase operation", slot)
			}
		}
		if !force && !v.header.KeySlots[slot].Enabled() {
			return policyErrorf("given keyslot %d is already erased (inactive)", slot)
		}
		if !force && v.countActiveSlots() == 1 {
			return policyErrorf("attempt to erase the only active keyslot %d which will erase all the data in the image irreversibly - refusing operation", slot)
		}
		if err := v.eraseKey(slot, write); err != nil {
			return err
		}
		log().Info("erased key slot", "uuid", v.UUID(), "slot", slot)
		return nil

	case oldPassword != nil:
		var matches []int
		for i := range v.header.KeySlots {
			key, ok, err := v.loadKey(i, oldPassword, read)
			if err != nil {
				return err
			}
			clearBytes(key)
			if ok {
				matches = append(matches, i)
			}
		}
		if len(matches) == 0 {
			return policyErrorf("no keyslots match given (old) password for erase operation")
		}
		if !force && len(matches) == v.countActiveSlots() {
			return policyErrorf("all the active keyslots match the (old) password that was given and erasing them will erase all the data in the image irreversibly - refusing operation")
		}
		for _, slot := range matches {
			if err := v.eraseKey(slot, write); err != nil {
				return err
			}
		}
		log().Info("erased key slots", "uuid", v.UUID(), "slots", matches)
		return nil

	default:
		return policyErrorf("to erase keyslot(s), either explicit keyslot index or the password currently contained in them must be given")
	}
}
