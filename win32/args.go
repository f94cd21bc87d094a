// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package win32

import (
	"strconv"
	"strings"
	"time"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/symstore"
)

// ApplyArgs configures a builder from the generic string-keyed argument
// surface a plugin loader passes through:
//
//	arch        = x64 | x32 | x32_pae | aarch64
//	dtb         = hex physical address
//	kernel_hint = hex virtual address
//	symstore    = uncached | none (anything else keeps the default)
//	vatcache    = "entries,time_ms" (entries 0 selects default sizing)
//
// Unknown keys and unparseable values are ignored, leaving the builder's
// defaults in place.
func ApplyArgs(b *KernelBuilder, args map[string]string) *KernelBuilder {
	switch strings.ToLower(args["arch"]) {
	case "x64":
		b = b.Arch(arch.X64)
	case "x32":
		b = b.Arch(arch.X86)
	case "x32_pae":
		b = b.Arch(arch.X86PAE)
	case "aarch64":
		b = b.Arch(arch.AArch64)
	}

	if v, err := strconv.ParseUint(args["dtb"], 16, 64); err == nil {
		b = b.Dtb(address.Address(v))
	}
	if v, err := strconv.ParseUint(args["kernel_hint"], 16, 64); err == nil {
		b = b.KernelHint(address.Address(v))
	}

	switch args["symstore"] {
	case "uncached":
		b = b.SymbolStore(symstore.New().NoCache())
	case "none":
		b = b.NoSymbolStore()
	}

	if entries, ttl, ok := parseVatCache(args["vatcache"]); ok {
		cfg := defaultVatCache
		if entries > 0 {
			cfg.Entries = entries
		}
		cfg.TTL = ttl
		b = b.VatCache(cfg)
	}

	return b
}

func parseVatCache(v string) (entries int, ttl time.Duration, ok bool) {
	if v == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(v, ",", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 {
		return 0, 0, false
	}
	var ms int
	if len(parts) == 2 {
		ms, err = strconv.Atoi(parts[1])
		if err != nil || ms < 0 {
			return 0, 0, false
		}
	}
	return n, time.Duration(ms) * time.Millisecond, true
}
