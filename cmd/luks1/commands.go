// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/bsiegert/ranges"
	"github.com/jeremyhahn/go-luks1/pkg/luks1"
	"github.com/spf13/cobra"
)

func (c *CLI) newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <path> [size]",
		Short: "Format a device or image file as a LUKS1 volume",
		Example: `  luks1 create /dev/sdb1
  luks1 create encrypted.img 100M
  luks1 create --cipher serpent-256 --cipher-mode cbc --ivgen essiv encrypted.img 1G`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.runCreate(args)
		},
	}
	cmd.Flags().String("cipher", "", "cipher and key size, e.g. aes-256, serpent-128, twofish-256, cast5-128")
	cmd.Flags().String("cipher-mode", "", "block mode: xts, cbc, ctr or ecb")
	cmd.Flags().String("ivgen", "", "IV generator: plain, plain64 or essiv")
	cmd.Flags().String("ivgen-hash", "", "ESSIV hash (default: sha256)")
	cmd.Flags().String("hash", "", "PBKDF2 and anti-forensic hash")
	cmd.Flags().Duration("iter-time", 0, "PBKDF2 time budget")
	return cmd
}

func (c *CLI) runCreate(args []string) error {
	path := args[0]
	opts, err := c.config.Algorithms()
	if err != nil {
		return err
	}

	created := false
	if len(args) == 2 {
		if isBlockDevicePath(path) {
			return fmt.Errorf("size is only valid for image files")
		}
		size, err := ParseSize(args[1])
		if err != nil {
			return err
		}
		if _, err := c.FS.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
		f, err := c.FS.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		created = true
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			_ = c.FS.Remove(path)
			return fmt.Errorf("failed to set file size: %w", err)
		}
		_ = f.Close()
	}
	cleanup := func() {
		if created {
			_ = c.FS.Remove(path)
		}
	}

	passphrase, err := c.newPassphrase("Enter passphrase for new volume: ")
	if err != nil {
		cleanup()
		return err
	}
	defer ClearBytes(passphrase)

	opts.Device = path
	opts.Passphrase = passphrase

	_, _ = fmt.Fprintf(c.Stdout, "Creating LUKS1 volume on %s\n", path)
	_, _ = fmt.Fprintf(c.Stdout, "  Cipher: %s %s\n", opts.CipherAlg, cipherModeName(opts.CipherMode, opts.IVGenAlg, opts.IVGenHashAlg))
	_, _ = fmt.Fprintf(c.Stdout, "  Hash:   %s\n", opts.HashAlg)

	info, err := c.Ops.Format(opts)
	if err != nil {
		cleanup()
		return err
	}

	_, _ = fmt.Fprintln(c.Stdout, "\nLUKS1 volume created successfully!")
	_, _ = fmt.Fprintf(c.Stdout, "UUID: %s\n", info.UUID)
	_, _ = fmt.Fprintf(c.Stdout, "\nNext: sudo luks1 open %s myvolume\n", path)
	return nil
}

func (c *CLI) newInfoCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "info <device>",
		Short: "Show the LUKS1 header of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			info, err := c.Ops.GetVolumeInfo(args[0])
			if err != nil {
				return err
			}
			return c.printInfo(args[0], info, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	return cmd
}

func (c *CLI) newOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open <device> <name>",
		Short: "Unlock a volume and map it with dm-crypt",
		Example: `  luks1 open /dev/sdb1 secret
  luks1 open --key-file recovery.txt encrypted.img secret`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			device, name := args[0], args[1]
			if c.Ops.IsActive(name) {
				return fmt.Errorf("%s: %w", name, luks1.ErrVolumeAlreadyActive)
			}

			passphrase, err := c.existingPassphrase("Enter passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(passphrase)

			if err := c.Ops.Activate(device, name, passphrase); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.Stdout, "Volume unlocked as /dev/mapper/%s\n", name)
			return nil
		},
	}
}

func (c *CLI) newCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close <name>",
		Short: "Remove a dm-crypt mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !c.Ops.IsActive(args[0]) {
				return fmt.Errorf("%s: %w", args[0], luks1.ErrVolumeNotActive)
			}
			if err := c.Ops.Deactivate(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.Stdout, "Volume %s closed\n", args[0])
			return nil
		},
	}
}

// slotFlag returns a pointer to the selected keyslot, or nil for the
// first free one
func slotFlag(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("slot") {
		return nil
	}
	slot, _ := cmd.Flags().GetInt("slot")
	return &slot
}

func (c *CLI) newAddKeyCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "add-key <device>",
		Short: "Add a passphrase to a free key slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, err := c.existingPassphrase("Enter any existing passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(existing)

			passphrase, err := c.newPassphrase("Enter new passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(passphrase)

			slot, err := c.Ops.AddKey(args[0], existing, passphrase, &luks1.AddKeyOptions{
				Keyslot:  slotFlag(cmd),
				IterTime: c.config.IterTime,
				Force:    force,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.Stdout, "Key added to slot %d\n", slot)
			return nil
		},
	}
	cmd.Flags().Int("slot", 0, "key slot to use (default: first free)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an active key slot")
	cmd.Flags().Duration("iter-time", 0, "PBKDF2 time budget")
	return cmd
}

func (c *CLI) newChangeKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change-key <device>",
		Short: "Replace the passphrase held by a key slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, _ := cmd.Flags().GetInt("slot")

			old, err := c.existingPassphrase("Enter passphrase to be changed: ")
			if err != nil {
				return err
			}
			defer ClearBytes(old)

			passphrase, err := c.newPassphrase("Enter new passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(passphrase)

			newSlot, err := c.Ops.ChangeKey(args[0], old, passphrase, slot)
			if err != nil {
				return err
			}
			if newSlot != slot {
				_, _ = fmt.Fprintf(c.Stdout, "Key slot %d changed, new passphrase is in key slot %d\n", slot, newSlot)
				return nil
			}
			_, _ = fmt.Fprintf(c.Stdout, "Key slot %d changed\n", slot)
			return nil
		},
	}
	cmd.Flags().Int("slot", 0, "key slot to change")
	return cmd
}

func (c *CLI) newRemoveKeyCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove-key <device>",
		Short: "Erase every key slot holding a passphrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			passphrase, err := c.existingPassphrase("Enter passphrase to be deleted: ")
			if err != nil {
				return err
			}
			defer ClearBytes(passphrase)

			if err := c.Ops.RemoveKey(args[0], passphrase, force); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.Stdout, "Key removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "allow erasing the last active key slot")
	return cmd
}

func (c *CLI) newKillSlotCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "kill-slot <device> <slots>",
		Short: "Erase key slots by index",
		Example: `  luks1 kill-slot /dev/sdb1 3
  luks1 kill-slot /dev/sdb1 1,4-6`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			slots, err := ranges.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid slot list %q: %w", args[1], err)
			}

			// force erases without proving knowledge of a remaining passphrase
			var passphrase []byte
			if !force {
				if passphrase, err = c.existingPassphrase("Enter any remaining passphrase: "); err != nil {
					return err
				}
				defer ClearBytes(passphrase)
			}

			for _, slot := range slots {
				if err := c.Ops.KillKeyslot(args[0], slot, passphrase, force); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.Stdout, "Key slot %d erased\n", slot)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "erase without a passphrase check")
	return cmd
}

func (c *CLI) newAddRecoveryKeyCommand() *cobra.Command {
	var (
		format string
		length int
		output string
	)
	cmd := &cobra.Command{
		Use:   "add-recovery-key <device>",
		Short: "Generate a recovery key and add it to a free key slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, err := c.existingPassphrase("Enter any existing passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(existing)

			key, err := c.Ops.AddRecoveryKey(args[0], existing, &luks1.RecoveryKeyOptions{
				Length:     length,
				Format:     luks1.RecoveryKeyFormat(format),
				Keyslot:    slotFlag(cmd),
				OutputPath: output,
				IterTime:   c.config.IterTime,
			})
			if err != nil {
				return err
			}
			defer key.Clear()

			c.warnWeakPassphrase([]byte(key.Formatted), c.config.MinPassphraseScore)
			_, _ = fmt.Fprintf(c.Stdout, "Recovery key added to slot %d\n\n", key.Keyslot)
			_, _ = fmt.Fprintf(c.Stdout, "    %s\n\n", key.Formatted)
			if output != "" {
				if key.SaveError != nil {
					_, _ = fmt.Fprintf(c.Stderr, "Warning: failed to save recovery key: %v\n", key.SaveError)
				} else {
					_, _ = fmt.Fprintf(c.Stdout, "Saved to %s\n", output)
				}
			}
			_, _ = fmt.Fprintln(c.Stdout, "Store this key somewhere safe. It will not be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(luks1.RecoveryKeyFormatDashed), "key format (dashed, hex, base64)")
	cmd.Flags().IntVar(&length, "length", luks1.RecoveryKeyLength, "key length in bytes")
	cmd.Flags().StringVar(&output, "output", "", "also save the key to this file")
	cmd.Flags().Int("slot", 0, "key slot to use (default: first free)")
	cmd.Flags().Duration("iter-time", 0, "PBKDF2 time budget")
	return cmd
}

func (c *CLI) newReadCommand() *cobra.Command {
	var (
		output string
		length int64
	)
	cmd := &cobra.Command{
		Use:   "read <device>",
		Short: "Decrypt the payload to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			passphrase, err := c.existingPassphrase("Enter passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(passphrase)

			w := c.Stdout
			if output != "" {
				f, err := c.FS.Create(output)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			n, err := c.Ops.ReadPayload(args[0], passphrase, w, length)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.Stderr, "%d bytes decrypted\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write plaintext to this file")
	cmd.Flags().Int64Var(&length, "length", -1, "bytes to read (default: whole payload)")
	return cmd
}

func (c *CLI) newWriteCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "write <device>",
		Short: "Encrypt stdin or a file into the payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			passphrase, err := c.existingPassphrase("Enter passphrase: ")
			if err != nil {
				return err
			}
			defer ClearBytes(passphrase)

			var r io.Reader = c.stdinReader()
			if input != "" {
				f, err := c.FS.Open(input)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			n, err := c.Ops.WritePayload(args[0], passphrase, r)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.Stderr, "%d bytes encrypted\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "read plaintext from this file")
	return cmd
}

func (c *CLI) newWipeCommand() *cobra.Command {
	var (
		full bool
		yes  bool
		opts luks1.WipeOptions
	)
	cmd := &cobra.Command{
		Use:   "wipe <device>",
		Short: "Destroy a volume",
		Long: `Destroy a volume. By default only the header and key material are
overwritten, which makes the payload unrecoverable. --full overwrites the
whole device.`,
		Example: `  luks1 wipe /dev/sdb1
  luks1 wipe --full --passes 3 --random /dev/sdb1
  luks1 wipe --full --trim /dev/nvme0n1p2`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if opts.Passes < 1 {
				return fmt.Errorf("invalid passes value: %d (must be >= 1)", opts.Passes)
			}
			opts.Device = args[0]
			opts.HeaderOnly = !full

			_, _ = fmt.Fprintln(c.Stdout, "*** WARNING: DESTRUCTIVE OPERATION ***")
			_, _ = fmt.Fprintf(c.Stdout, "This will PERMANENTLY DESTROY all data on: %s\n", opts.Device)
			if opts.HeaderOnly {
				_, _ = fmt.Fprintln(c.Stdout, "Mode: Header wipe only")
			} else {
				data := "zeros"
				if opts.Random {
					data = "random"
				}
				_, _ = fmt.Fprintf(c.Stdout, "Mode: Full device wipe (%d passes of %s)\n", opts.Passes, data)
			}

			if !yes {
				_, _ = fmt.Fprint(c.Stdout, "\nType 'YES' to confirm wipe: ")
				confirm, _ := c.readLine()
				if confirm != "YES" {
					_, _ = fmt.Fprintln(c.Stdout, "\nWipe cancelled")
					return nil
				}
			}

			if err := c.Ops.Wipe(opts); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.Stdout, "\nVolume wiped successfully!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "overwrite the entire device")
	cmd.Flags().IntVar(&opts.Passes, "passes", 1, "number of overwrite passes")
	cmd.Flags().BoolVar(&opts.Random, "random", false, "overwrite with random data instead of zeros")
	cmd.Flags().BoolVar(&opts.Trim, "trim", false, "issue a discard after a full wipe")
	cmd.Flags().BoolVar(&yes, "yes", false, "do not ask for confirmation")
	return cmd
}

func (c *CLI) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(c.Stdout, "luks1 version %s\n", Version)
		},
	}
}

