// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/jeremyhahn/go-luks1/pkg/luks1"
	"gopkg.in/yaml.v2"
)

// cipherModeName renders a mode the way it appears in the header, e.g.
// "xts-plain64" or "cbc-essiv:sha256"
func cipherModeName(mode luks1.CipherMode, ivgen luks1.IVGenAlgorithm, ivgenHash luks1.HashAlgorithm) string {
	if mode == luks1.ModeECB {
		return mode.String()
	}
	if ivgen == 0 {
		ivgen = luks1.IVGenPlain64
	}
	name := mode.String() + "-" + ivgen.String()
	if ivgen == luks1.IVGenESSIV {
		if ivgenHash == 0 {
			ivgenHash = luks1.HashSHA256
		}
		name += ":" + ivgenHash.String()
	}
	return name
}

func (c *CLI) printInfo(device string, info *luks1.Info, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(c.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		out, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		_, err = c.Stdout.Write(out)
		return err
	case "table", "":
		return c.printInfoTable(device, info)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func (c *CLI) printInfoTable(device string, info *luks1.Info) error {
	w := tabwriter.NewWriter(c.Stdout, 0, 0, 1, ' ', 0)

	_, _ = fmt.Fprintf(w, "LUKS header information for %s\n\n", device)
	_, _ = fmt.Fprintf(w, "Version:\t%d\n", luks1.Version)
	_, _ = fmt.Fprintf(w, "Cipher:\t%s\n", info.CipherAlg)
	_, _ = fmt.Fprintf(w, "Cipher mode:\t%s\n", cipherModeName(info.CipherMode, info.IVGenAlg, info.IVGenHashAlg))
	_, _ = fmt.Fprintf(w, "Hash spec:\t%s\n", info.HashAlg)
	_, _ = fmt.Fprintf(w, "Payload offset:\t%d\n", info.PayloadOffset/luks1.SectorSize)
	_, _ = fmt.Fprintf(w, "MK iterations:\t%d\n", info.MasterKeyIterations)
	_, _ = fmt.Fprintf(w, "UUID:\t%s\n\n", info.UUID)

	for i, slot := range info.Slots {
		if !slot.Active {
			_, _ = fmt.Fprintf(w, "Key Slot %d:\tDISABLED\n", i)
			continue
		}
		_, _ = fmt.Fprintf(w, "Key Slot %d:\tENABLED\n", i)
		_, _ = fmt.Fprintf(w, "\tIterations:\t%d\n", slot.Iterations)
		_, _ = fmt.Fprintf(w, "\tKey material offset:\t%d\n", slot.KeyOffset/luks1.SectorSize)
		_, _ = fmt.Fprintf(w, "\tAF stripes:\t%d\n", slot.Stripes)
	}
	return w.Flush()
}
