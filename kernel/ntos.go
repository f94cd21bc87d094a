// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"encoding/binary"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/pe"
	"github.com/memflow/memflow-win32-go/xerr"
)

const ntosStage = "NtosLocator"

const ntoskrnlName = "ntoskrnl.exe"

const (
	pageSize       = 0x1000
	scanChunkSize  = 2 * 1024 * 1024 // 2 MiB
	minChunkSize   = 256 * 1024      // 256 KiB
	vaHintStepDown = 2 * 1024 * 1024
)

// LocateNtos finds the ntoskrnl.exe image base: for 64-bit targets it
// tries the kernel-hint va-probe first, then falls back to the page-map
// scan; for 32-bit targets only the page-map scan applies.
func LocateNtos(mem memio.MemoryView, vat memio.VirtualTranslate, a *arch.Architecture, dtb, hint address.Address) (address.Address, uint64, error) {
	if a.Bits() == 64 && !hint.IsNull() {
		if base, size, err := locateWithVaHint(mem, hint); err == nil {
			return base, size, nil
		}
	}
	return locateWithPageMap(mem, vat, a, dtb)
}

// locateWithVaHint walks 2 MiB windows downward from the hinted kernel
// base, 2 MiB at a time, as long as the window base lies less than 16 MiB
// below the hint address.
func locateWithVaHint(mem memio.MemoryView, hint address.Address) (address.Address, uint64, error) {
	vaBase := hint.Uint64() &^ 0x0001_ffff
	for vaBase+16*1024*1024 > hint.Uint64() {
		if candidate, ok := scanWindow(mem, address.Address(vaBase), scanChunkSize); ok {
			size, err := pe.TryGetPeSize(mem, candidate)
			if err == nil {
				return candidate, size, nil
			}
		}
		vaBase -= vaHintStepDown
	}
	return address.Null, 0, xerr.New(xerr.NotFound, ntosStage, "unable to locate ntoskrnl.exe via va hint")
}

// locateWithPageMap enumerates every mapped virtual range in the upper
// half of the address space, splits it into 2 MiB chunks larger than
// 256 KiB, and probes each.
func locateWithPageMap(mem memio.MemoryView, vat memio.VirtualTranslate, a *arch.Architecture, dtb address.Address) (address.Address, uint64, error) {
	low := address.Address(^uint64(0) - (uint64(1) << (a.AddressSpaceBits - 1)))
	high := address.Address(^uint64(0))

	ranges, err := vat.VirtualRanges(dtb, low, high)
	if err != nil {
		return address.Null, 0, xerr.Wrap(xerr.NotFound, ntosStage, "enumerating virtual ranges", err)
	}

	for _, r := range ranges {
		for _, chunk := range memio.PageChunks(r.Base, r.Size, scanChunkSize) {
			if chunk.Size <= minChunkSize {
				continue
			}
			if candidate, ok := scanWindow(mem, chunk.Base, chunk.Size); ok {
				size, err := pe.TryGetPeSize(mem, candidate)
				if err == nil {
					return candidate, size, nil
				}
			}
		}
	}

	return address.Null, 0, xerr.New(xerr.NotFound, ntosStage, "unable to locate ntoskrnl.exe with a page map")
}

// scanWindow reads a contiguous virtual window and returns the first
// page-aligned candidate whose header looks like a PE image and whose
// exported module name is exactly "ntoskrnl.exe".
func scanWindow(mem memio.MemoryView, base address.Address, windowLen uint64) (address.Address, bool) {
	buf := make([]byte, windowLen)
	n, err := mem.ReadAt(base, buf)
	if err != nil && n == 0 {
		return address.Null, false
	}
	buf = buf[:n]

	for off := 0; off+0x40 <= len(buf); off += pageSize {
		page := buf[off:]
		if binary.LittleEndian.Uint16(page[0:2]) != pe.DosMagic {
			continue
		}
		lfanew := binary.LittleEndian.Uint32(page[0x3c:0x40])
		if lfanew > pe.MaxELfanew {
			continue
		}
		candidate := base.Add(int64(off))
		name, err := pe.TryGetPeName(mem, candidate)
		if err == nil && name == ntoskrnlName {
			return candidate, true
		}
	}
	return address.Null, false
}
