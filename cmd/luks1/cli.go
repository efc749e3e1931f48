// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jeremyhahn/go-luks1/pkg/luks1"
	"github.com/spf13/cobra"
)

// Version is the CLI release
const Version = "1.0.0"

// VolumeOperations defines the interface for LUKS1 operations
type VolumeOperations interface {
	Format(opts luks1.FormatOptions) (*luks1.Info, error)
	GetVolumeInfo(device string) (*luks1.Info, error)
	Activate(device, name string, passphrase []byte) error
	Deactivate(name string) error
	IsActive(name string) bool
	AddKey(device string, existing, passphrase []byte, opts *luks1.AddKeyOptions) (int, error)
	ChangeKey(device string, oldPassphrase, newPassphrase []byte, keyslot int) (int, error)
	RemoveKey(device string, passphrase []byte, force bool) error
	KillKeyslot(device string, keyslot int, passphrase []byte, force bool) error
	AddRecoveryKey(device string, passphrase []byte, opts *luks1.RecoveryKeyOptions) (*luks1.RecoveryKey, error)
	ReadPayload(device string, passphrase []byte, w io.Writer, length int64) (int64, error)
	WritePayload(device string, passphrase []byte, r io.Reader) (int64, error)
	Wipe(opts luks1.WipeOptions) error
}

// Terminal defines the interface for terminal operations
type Terminal interface {
	ReadPassword(fd int) ([]byte, error)
	IsTerminal(fd int) bool
}

// FileSystem defines the interface for file system operations
type FileSystem interface {
	Create(name string) (*os.File, error)
	Open(name string) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
}

// CLI represents the command-line interface application
type CLI struct {
	Args       []string
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Ops        VolumeOperations
	Terminal   Terminal
	FS         FileSystem
	getStdinFd func() int

	config  *Config
	keyFile string
	lines   *bufio.Reader
}

// DefaultVolumeOperations implements VolumeOperations using the luks1 package
type DefaultVolumeOperations struct{}

func (d *DefaultVolumeOperations) Format(opts luks1.FormatOptions) (*luks1.Info, error) {
	return luks1.Format(opts)
}

func (d *DefaultVolumeOperations) GetVolumeInfo(device string) (*luks1.Info, error) {
	return luks1.GetVolumeInfo(device)
}

func (d *DefaultVolumeOperations) Activate(device, name string, passphrase []byte) error {
	return luks1.Activate(device, name, passphrase)
}

func (d *DefaultVolumeOperations) Deactivate(name string) error {
	return luks1.Deactivate(name)
}

func (d *DefaultVolumeOperations) IsActive(name string) bool {
	return luks1.IsActive(name)
}

func (d *DefaultVolumeOperations) AddKey(device string, existing, passphrase []byte, opts *luks1.AddKeyOptions) (int, error) {
	return luks1.AddKey(device, existing, passphrase, opts)
}

func (d *DefaultVolumeOperations) ChangeKey(device string, oldPassphrase, newPassphrase []byte, keyslot int) (int, error) {
	return luks1.ChangeKey(device, oldPassphrase, newPassphrase, keyslot)
}

func (d *DefaultVolumeOperations) RemoveKey(device string, passphrase []byte, force bool) error {
	return luks1.RemoveKey(device, passphrase, force)
}

func (d *DefaultVolumeOperations) KillKeyslot(device string, keyslot int, passphrase []byte, force bool) error {
	return luks1.KillKeyslot(device, keyslot, passphrase, force)
}

func (d *DefaultVolumeOperations) AddRecoveryKey(device string, passphrase []byte, opts *luks1.RecoveryKeyOptions) (*luks1.RecoveryKey, error) {
	return luks1.AddRecoveryKey(device, passphrase, opts)
}

func (d *DefaultVolumeOperations) ReadPayload(device string, passphrase []byte, w io.Writer, length int64) (int64, error) {
	return luks1.ReadPayload(device, passphrase, w, length)
}

func (d *DefaultVolumeOperations) WritePayload(device string, passphrase []byte, r io.Reader) (int64, error) {
	return luks1.WritePayload(device, passphrase, r)
}

func (d *DefaultVolumeOperations) Wipe(opts luks1.WipeOptions) error {
	return luks1.Wipe(opts)
}

// DefaultFileSystem implements FileSystem using the actual os package
type DefaultFileSystem struct{}

func (d *DefaultFileSystem) Create(name string) (*os.File, error) {
	return os.Create(name) // #nosec G304 -- CLI tool intentionally creates files at user-specified paths
}

func (d *DefaultFileSystem) Open(name string) (*os.File, error) {
	return os.Open(name) // #nosec G304 -- CLI tool intentionally reads user-specified paths
}

func (d *DefaultFileSystem) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (d *DefaultFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// NewCLI creates a new CLI instance with default dependencies
func NewCLI() *CLI {
	return &CLI{
		Args:       os.Args,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Ops:        &DefaultVolumeOperations{},
		Terminal:   &DefaultTerminal{},
		FS:         &DefaultFileSystem{},
		getStdinFd: func() int { return int(os.Stdin.Fd()) },
	}
}

// Run executes the CLI with the given arguments and returns the exit code
func (c *CLI) Run() int {
	root := c.newRootCommand()
	root.SetArgs(c.Args[1:])
	root.SetIn(c.Stdin)
	root.SetOut(c.Stdout)
	root.SetErr(c.Stderr)

	if len(c.Args) < 2 {
		_ = root.Help()
		return 1
	}

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// exitCode follows the cryptsetup convention: 2 for a bad passphrase,
// 4 for a missing or foreign device, 5 for a busy device
func exitCode(err error) int {
	switch {
	case errors.Is(err, luks1.ErrInvalidPassphrase):
		return 2
	case errors.Is(err, luks1.ErrDeviceNotFound), errors.Is(err, luks1.ErrInvalidHeader):
		return 4
	case errors.Is(err, luks1.ErrStorageLocked), errors.Is(err, luks1.ErrVolumeAlreadyActive):
		return 5
	default:
		return 1
	}
}

func (c *CLI) newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "luks1",
		Short: "Manage LUKS1 encrypted volumes",
		Long: `luks1 creates, inspects and unlocks LUKS1 encrypted block devices and
image files, and manages their eight passphrase key slots.

Defaults for new volumes are read from luks1.yaml in ., $HOME/.luks1 or
/etc/luks1, and from LUKS1_* environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			c.config = cfg
			c.setupLogging(cfg.Verbose)
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("luks1 version {{.Version}}\n")

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: luks1.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&c.keyFile, "key-file", "", "read the existing passphrase or recovery key from a file")

	root.AddCommand(
		c.newCreateCommand(),
		c.newInfoCommand(),
		c.newOpenCommand(),
		c.newCloseCommand(),
		c.newAddKeyCommand(),
		c.newChangeKeyCommand(),
		c.newRemoveKeyCommand(),
		c.newKillSlotCommand(),
		c.newAddRecoveryKeyCommand(),
		c.newReadCommand(),
		c.newWriteCommand(),
		c.newWipeCommand(),
		c.newVersionCommand(),
	)
	return root
}

func (c *CLI) setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	luks1.SetLogger(slog.New(slog.NewTextHandler(c.Stderr, &slog.HandlerOptions{Level: level})))
}

func (c *CLI) stdinFd() int {
	if c.getStdinFd != nil {
		return c.getStdinFd()
	}
	return int(os.Stdin.Fd())
}

// stdinReader returns the shared buffered reader over Stdin, so that
// passphrase lines and payload data come from the same stream
func (c *CLI) stdinReader() *bufio.Reader {
	if c.lines == nil {
		c.lines = bufio.NewReader(c.Stdin)
	}
	return c.lines
}

func (c *CLI) readLine() (string, error) {
	line, err := c.stdinReader().ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readSecret reads one passphrase, hidden on a terminal and as a plain
// line when stdin is piped
func (c *CLI) readSecret(prompt string) ([]byte, error) {
	fd := c.stdinFd()
	if !c.Terminal.IsTerminal(fd) {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		return []byte(line), nil
	}

	_, _ = fmt.Fprint(c.Stderr, prompt)
	secret, err := c.Terminal.ReadPassword(fd)
	_, _ = fmt.Fprintln(c.Stderr)
	return secret, err
}

// promptPassphrase prompts for a passphrase. Confirmation is only asked
// for on a terminal.
func (c *CLI) promptPassphrase(prompt string, confirm bool) ([]byte, error) {
	passphrase, err := c.readSecret(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	if err := luks1.ValidatePassphrase(passphrase); err != nil {
		ClearBytes(passphrase)
		return nil, err
	}

	if confirm && c.Terminal.IsTerminal(c.stdinFd()) {
		confirmation, err := c.readSecret("Confirm passphrase: ")
		if err != nil {
			ClearBytes(passphrase)
			return nil, fmt.Errorf("failed to read confirmation: %w", err)
		}
		defer ClearBytes(confirmation)
		if !luks1.ConstantTimeEqual(passphrase, confirmation) {
			ClearBytes(passphrase)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}
	return passphrase, nil
}

// existingPassphrase returns the passphrase that unlocks a volume, from
// --key-file when set
func (c *CLI) existingPassphrase(prompt string) ([]byte, error) {
	if c.keyFile != "" {
		return luks1.LoadRecoveryKey(c.keyFile)
	}
	return c.promptPassphrase(prompt, false)
}

// newPassphrase prompts for a passphrase that will be stored in a key
// slot and warns when it is weak
func (c *CLI) newPassphrase(prompt string) ([]byte, error) {
	passphrase, err := c.promptPassphrase(prompt, true)
	if err != nil {
		return nil, err
	}
	c.warnWeakPassphrase(passphrase, c.config.MinPassphraseScore)
	return passphrase, nil
}

// ParseSize parses a size string like "100M" into bytes (exported for testing)
func ParseSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty size")
	}

	suffix := s[len(s)-1]
	var multiplier int64 = 1

	valueStr := s
	switch suffix {
	case 'K', 'k':
		multiplier = 1 << 10
		valueStr = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1 << 20
		valueStr = s[:len(s)-1]
	case 'G', 'g':
		multiplier = 1 << 30
		valueStr = s[:len(s)-1]
	case 'T', 't':
		multiplier = 1 << 40
		valueStr = s[:len(s)-1]
	}

	var value int64
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid size value: %s", s)
	}
	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large: %s", s)
	}
	return value * multiplier, nil
}

// ClearBytes securely clears a byte slice (exported for testing)
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isBlockDevicePath(path string) bool {
	return strings.HasPrefix(path, "/dev/")
}
