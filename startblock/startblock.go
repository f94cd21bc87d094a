// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package startblock locates the directory table base of the running
// kernel by scanning low physical memory for the per-architecture "low
// stub" the Windows loader leaves behind. Each architecture gets its own
// scanner with its own match predicate; Find tries the hinted architecture
// first and falls back to the others in a fixed order.
package startblock

import (
	"encoding/binary"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/xerr"
)

const stage = "StartBlockFinder"

var byteOrder = binary.LittleEndian

// PageSize is the granularity every scanner in this package reads at.
const PageSize = 0x1000

// LowStubWindowSize bounds how much of low physical memory the x86/x86-PAE/
// x64 scanners inspect.
const LowStubWindowSize = 16 * 1024 * 1024

// AArch64PhysBase is where the AArch64 scanner starts looking; the loader
// places the kernel page tables above the first gigabyte on that
// architecture. Systems with unusually small physical RAM may need this
// lowered.
const AArch64PhysBase = 1 << 30 // 1 GiB

// StartBlock is the result of a successful scan: the architecture that
// matched, the physical dtb it found, and an optional virtual kernel-base
// hint (NULL when the scanner's low stub doesn't carry one).
type StartBlock struct {
	Arch       arch.Ident
	KernelHint address.Address
	Dtb        address.Address
}

// scanFunc scans its architecture's physical window and returns candidate
// start blocks in ascending physical-address order.
type scanFunc func(phys memio.PhysicalMemory) []StartBlock

var scanners = map[arch.Ident]scanFunc{
	arch.X64:     scanX64,
	arch.X86PAE:  scanX86PAE,
	arch.X86:     scanX86,
	arch.AArch64: scanAArch64,
}

// scanOrder lists every architecture to try, hint first.
func scanOrder(hint arch.Ident) []arch.Ident {
	order := []arch.Ident{hint}
	for _, a := range []arch.Ident{arch.X64, arch.X86PAE, arch.X86, arch.AArch64} {
		if a != hint {
			order = append(order, a)
		}
	}
	return order
}

// Find tries the hinted architecture's scanner first, then the remaining
// three in a fixed order, returning the first candidate found.
func Find(phys memio.PhysicalMemory, hint arch.Ident) (StartBlock, error) {
	for _, a := range scanOrder(hint) {
		scan, ok := scanners[a]
		if !ok {
			continue
		}
		if candidates := scan(phys); len(candidates) > 0 {
			return candidates[0], nil
		}
	}
	return StartBlock{}, xerr.New(xerr.NotFound, stage, "unable to find a start block in low physical memory")
}

// FindFallback re-runs prev's architecture scanner, skipping the dtb
// already returned once, and returns the next candidate in ascending
// address order. It is the one retry the bootstrap pipeline performs
// when everything downstream of the first StartBlock fails.
func FindFallback(phys memio.PhysicalMemory, prev StartBlock) (StartBlock, error) {
	scan, ok := scanners[prev.Arch]
	if !ok {
		return StartBlock{}, xerr.New(xerr.NotFound, stage, "no scanner for architecture "+prev.Arch.String())
	}
	for _, candidate := range scan(phys) {
		if candidate.Dtb != prev.Dtb {
			return candidate, nil
		}
	}
	return StartBlock{}, xerr.New(xerr.NotFound, stage, "no further start block candidate for "+prev.Arch.String())
}

// readPage reads one PageSize-byte page at addr, tolerating the trailing
// short read at the end of a caller-bounded memory view.
func readPage(phys memio.PhysicalMemory, addr address.Address) ([]byte, bool) {
	buf := make([]byte, PageSize)
	n, err := phys.ReadPhysicalAt(addr, buf)
	if err != nil && n == 0 {
		return nil, false
	}
	return buf, true
}
