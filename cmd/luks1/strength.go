// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/Picocrypt/zxcvbn-go"
)

var strengthLabels = []string{"very weak", "weak", "fair", "strong", "very strong"}

// PassphraseScore rates a passphrase from 0 (very weak) to 4
func PassphraseScore(passphrase []byte) int {
	return zxcvbn.PasswordStrength(string(passphrase), nil).Score
}

// warnWeakPassphrase prints a warning when the passphrase scores below min.
// It never rejects the passphrase.
func (c *CLI) warnWeakPassphrase(passphrase []byte, min int) {
	score := PassphraseScore(passphrase)
	if score >= min {
		return
	}
	label := "unknown"
	if score >= 0 && score < len(strengthLabels) {
		label = strengthLabels[score]
	}
	_, _ = fmt.Fprintf(c.Stderr, "Warning: passphrase strength is %s (%d/4)\n", label, score)
}
