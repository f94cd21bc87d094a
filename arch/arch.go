// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions for the four
// targets this module supports: page sizes, address space widths, pointer
// widths, and the user-space PEB/LDR offset tables. It does not translate
// virtual addresses; that is the job of memio.VirtualTranslate.
package arch

import (
	"encoding/binary"
	"fmt"
)

// Ident names one of the four supported architectures.
type Ident int

const (
	X86 Ident = iota
	X86PAE
	X64
	AArch64
)

func (i Ident) String() string {
	switch i {
	case X86:
		return "x86"
	case X86PAE:
		return "x86_pae"
	case X64:
		return "x64"
	case AArch64:
		return "aarch64"
	default:
		return fmt.Sprintf("arch(%d)", int(i))
	}
}

// Architecture describes the address-space geometry of one of the four
// supported targets. It carries no page-table walker (see below).
type Architecture struct {
	Ident Ident

	// PageSize is the smallest mappable unit, in bytes (always 0x1000 here).
	PageSize uint64

	// AddressSpaceBits is the number of bits of virtual address space, used
	// to find the kernel half of the address space when scanning page
	// tables for the ntoskrnl image (see NtosLocator).
	AddressSpaceBits uint

	// PointerSize is the width of a native pointer, in bytes.
	PointerSize int

	// ByteOrder is always little-endian on every architecture this module
	// supports, but is spelled out explicitly at each read site for clarity.
	ByteOrder binary.ByteOrder
}

// The actual virtual-to-physical page walker for each of these
// architectures is a collaborator (memio.VirtualTranslate): it is supplied
// by the caller together with the physical-memory connector, not
// implemented in this module. Architecture only carries the geometry the
// start-block and ntoskrnl scanners need to chunk their scans.

// Bits returns the native integer width of the architecture, in bits.
func (a *Architecture) Bits() int {
	return a.PointerSize * 8
}

var (
	// X86Arch describes 32-bit x86 with a two-level, non-PAE page table.
	X86Arch = Architecture{
		Ident:            X86,
		PageSize:         0x1000,
		AddressSpaceBits: 32,
		PointerSize:      4,
		ByteOrder:        binary.LittleEndian,
	}

	// X86PAEArch describes 32-bit x86 with PAE enabled: a three-level page
	// table (PDPT/PD/PT) addressing up to 64 GiB of physical memory.
	X86PAEArch = Architecture{
		Ident:            X86PAE,
		PageSize:         0x1000,
		AddressSpaceBits: 32,
		PointerSize:      4,
		ByteOrder:        binary.LittleEndian,
	}

	// X64Arch describes the standard 4-level x86-64 page table.
	X64Arch = Architecture{
		Ident:            X64,
		PageSize:         0x1000,
		AddressSpaceBits: 48,
		PointerSize:      8,
		ByteOrder:        binary.LittleEndian,
	}

	// AArch64Arch describes the standard 4-level AArch64 page table (4 KiB
	// granule, 48-bit VA).
	AArch64Arch = Architecture{
		Ident:            AArch64,
		PageSize:         0x1000,
		AddressSpaceBits: 48,
		PointerSize:      8,
		ByteOrder:        binary.LittleEndian,
	}
)

// All lists every architecture StartBlockFinder knows how to scan for, in
// the order find() tries them when no hint is given.
var All = []*Architecture{&X64Arch, &X86PAEArch, &X86Arch, &AArch64Arch}

// ByIdent returns the Architecture for ident.
func ByIdent(ident Ident) *Architecture {
	switch ident {
	case X86:
		return &X86Arch
	case X86PAE:
		return &X86PAEArch
	case X64:
		return &X64Arch
	case AArch64:
		return &AArch64Arch
	default:
		return nil
	}
}
