// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memio defines the three collaborator interfaces this module is
// built against: PhysicalMemory, VirtualTranslate, and MemoryView. The
// underlying physical-memory connector and virtual-translation engine are
// provided by the caller; this package only composes them into the views
// the bootstrap pipeline needs.
package memio

import (
	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
)

// PhysicalMemory is byte-granular read access to a target's physical
// address space. Implementations may report partial reads (n < len(buf))
// instead of an error when part of the requested range is unmapped.
type PhysicalMemory interface {
	ReadPhysicalAt(addr address.Address, buf []byte) (n int, err error)
}

// Range describes a contiguous span of virtual address space, as returned
// by VirtualTranslate's range enumeration.
type Range struct {
	Base address.Address
	Size uint64
}

// VirtualTranslate maps virtual addresses to physical ones under a given
// page-table root (DTB), and can enumerate the mapped ranges within an
// address window. The ntoskrnl page-map scan depends on the latter.
type VirtualTranslate interface {
	Translate(dtb, va address.Address) (address.Address, error)

	// VirtualRanges enumerates mapped virtual ranges under dtb whose base
	// address falls within [low, high).
	VirtualRanges(dtb address.Address, low, high address.Address) ([]Range, error)
}

// MemoryView is byte-granular read access at virtual addresses, sitting on
// top of a PhysicalMemory + VirtualTranslate pair the way VirtualDma
// composes them below.
type MemoryView interface {
	ReadAt(addr address.Address, buf []byte) (n int, err error)
}

// VirtualDma is a MemoryView backed by a PhysicalMemory connector, a
// VirtualTranslate engine, and a fixed DTB. It is the "virtual memory view"
// the kernel bootstrap pipeline constructs immediately after StartBlockFinder
// resolves a DTB, and is the MemoryView every later stage (PE reconstruction,
// kernel identification, sysproc lookup) reads through.
type VirtualDma struct {
	Phys PhysicalMemory
	Vat  VirtualTranslate
	Arch *arch.Architecture
	Dtb  address.Address
}

// NewVirtualDma builds a VirtualDma view over phys/vat rooted at dtb.
func NewVirtualDma(phys PhysicalMemory, vat VirtualTranslate, a *arch.Architecture, dtb address.Address) *VirtualDma {
	return &VirtualDma{Phys: phys, Vat: vat, Arch: a, Dtb: dtb}
}

// ReadAt reads len(buf) bytes starting at the virtual address addr, one
// page at a time (a read may span a page boundary, and each page may
// translate to a non-adjacent physical page).
func (v *VirtualDma) ReadAt(addr address.Address, buf []byte) (int, error) {
	pageSize := v.Arch.PageSize
	read := 0
	for read < len(buf) {
		va := addr.Add(int64(read))
		pageOff := va.Uint64() % pageSize
		chunk := pageSize - pageOff
		if remain := uint64(len(buf) - read); chunk > remain {
			chunk = remain
		}

		pa, err := v.Vat.Translate(v.Dtb, va)
		if err != nil {
			return read, err
		}

		n, err := v.Phys.ReadPhysicalAt(pa, buf[read:read+int(chunk)])
		read += n
		if err != nil {
			return read, err
		}
		if n < int(chunk) {
			return read, nil
		}
	}
	return read, nil
}

// ReadAtZeroFill behaves like ReadAt but never fails: any page that cannot
// be translated or read is left zeroed in buf. Package pe relies on this
// when reconstructing an image with unmapped holes.
func ReadAtZeroFill(mem MemoryView, a *arch.Architecture, addr address.Address, size uint64) []byte {
	buf := make([]byte, size)
	pageSize := a.PageSize
	var off uint64
	for off < size {
		va := addr.Add(int64(off))
		pageOff := va.Uint64() % pageSize
		chunk := pageSize - pageOff
		if remain := size - off; chunk > remain {
			chunk = remain
		}
		// Best effort: ignore errors and partial reads, the destination
		// slice is already zeroed by make().
		mem.ReadAt(va, buf[off:off+chunk])
		off += chunk
	}
	return buf
}

// PageChunks splits [base, base+total) into chunks of at most chunkSize
// bytes, aligned so that no chunk straddles a chunkSize boundary relative
// to base. The ntoskrnl locator uses this to turn a wide mapped range into
// candidate-sized probing windows.
func PageChunks(base address.Address, total, chunkSize uint64) []Range {
	var out []Range
	var off uint64
	for off < total {
		n := chunkSize
		if remain := total - off; n > remain {
			n = remain
		}
		out = append(out, Range{Base: base.Add(int64(off)), Size: n})
		off += n
	}
	return out
}
