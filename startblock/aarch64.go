// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startblock

import (
	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
)

const aarch64MaxMem = 512 * 1024 * 1024 * 1024 // 512 GiB

// findPT reports whether page (one 4 KiB page read at physical addr) is a
// plausible AArch64 top-level page table: its first PTE looks like a valid
// table descriptor within a sane physical range, the upper half contains a
// self-referential entry for addr, and at least six upper-half entries look
// like kernel page mappings.
func findPT(addr address.Address, page []byte) bool {
	pte := byteOrder.Uint64(page[0:8])
	if pte&0xfff != 0xf03 || (pte&0x0000_ffff_ffff_f000) > aarch64MaxMem {
		return false
	}

	upper := page[0x800:]
	selfRef := false
	kernelEntries := 0
	for i := 0; i*8 < len(upper); i++ {
		e := byteOrder.Uint64(upper[i*8 : i*8+8])
		if (e^0xf03)&^uint64(0xfff) == addr.Uint64() {
			selfRef = true
		}
		if e&0xfff == 0x703 {
			kernelEntries++
		}
	}
	return selfRef && kernelEntries >= 6
}

// scanAArch64 implements the AArch64 low-stub scanner. It begins at
// AArch64PhysBase rather than physical address 0.
func scanAArch64(phys memio.PhysicalMemory) []StartBlock {
	var out []StartBlock
	for off := uint64(0); off < LowStubWindowSize; off += PageSize {
		addr := address.Address(AArch64PhysBase + off)
		page, ok := readPage(phys, addr)
		if !ok {
			continue
		}
		if !findPT(addr, page) {
			continue
		}
		out = append(out, StartBlock{Arch: arch.AArch64, Dtb: addr, KernelHint: address.Null})
	}
	return out
}
