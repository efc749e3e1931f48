// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-luks1/pkg/luks1"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the volume defaults used by create, add-key and
// add-recovery-key
type Config struct {
	Cipher             string        `mapstructure:"cipher"`
	CipherMode         string        `mapstructure:"cipher_mode"`
	IVGen              string        `mapstructure:"ivgen"`
	IVGenHash          string        `mapstructure:"ivgen_hash"`
	Hash               string        `mapstructure:"hash"`
	IterTime           time.Duration `mapstructure:"iter_time"`
	MinPassphraseScore int           `mapstructure:"min_passphrase_score"`
	Verbose            bool          `mapstructure:"verbose"`
}

// configKeys maps config keys to the flag names that override them
var configKeys = map[string]string{
	"cipher":      "cipher",
	"cipher_mode": "cipher-mode",
	"ivgen":       "ivgen",
	"ivgen_hash":  "ivgen-hash",
	"hash":        "hash",
	"iter_time":   "iter-time",
	"verbose":     "verbose",
}

// LoadConfig reads luks1.yaml (or path, when set), LUKS1_* environment
// variables and any flags the user changed. Flags win over the environment,
// which wins over the file.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("luks1")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.luks1")
		v.AddConfigPath("/etc/luks1")
	}

	v.SetDefault("cipher", luks1.CipherAES256.String())
	v.SetDefault("cipher_mode", luks1.ModeXTS.String())
	v.SetDefault("ivgen", luks1.IVGenPlain64.String())
	v.SetDefault("ivgen_hash", "")
	v.SetDefault("hash", luks1.HashSHA256.String())
	v.SetDefault("iter_time", 2*time.Second)
	v.SetDefault("min_passphrase_score", 2)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix("LUKS1")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for key, name := range configKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Algorithms resolves the configured names
func (c *Config) Algorithms() (luks1.FormatOptions, error) {
	var opts luks1.FormatOptions
	var err error

	if opts.CipherAlg, err = luks1.ParseCipherAlgorithm(c.Cipher); err != nil {
		return opts, err
	}
	if opts.CipherMode, err = luks1.ParseCipherMode(c.CipherMode); err != nil {
		return opts, err
	}
	if opts.CipherMode != luks1.ModeECB {
		if opts.IVGenAlg, err = luks1.ParseIVGenAlgorithm(c.IVGen); err != nil {
			return opts, err
		}
	}
	if c.IVGenHash != "" {
		if opts.IVGenHashAlg, err = luks1.ParseHashAlgorithm(c.IVGenHash); err != nil {
			return opts, err
		}
	}
	if opts.HashAlg, err = luks1.ParseHashAlgorithm(c.Hash); err != nil {
		return opts, err
	}
	opts.IterTime = c.IterTime
	return opts, nil
}
