// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startblock

import (
	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
)

// checkPagePAE reports whether the page at addr is a PAE PDPT self-map:
// its first four qwords each encode a self-referential PDPTE for addr, and
// every remaining qword in the page is zero.
func checkPagePAE(addr address.Address, page []byte) bool {
	for i := 0; i*8 < len(page); i++ {
		qword := byteOrder.Uint64(page[i*8 : i*8+8])
		if i < 4 {
			want := addr.Uint64() + (uint64(i)*8)<<9 + 0x1001
			if qword != want {
				return false
			}
		} else if qword != 0 {
			return false
		}
	}
	return true
}

// scanX86PAE implements the x86-PAE low-stub scanner.
func scanX86PAE(phys memio.PhysicalMemory) []StartBlock {
	var out []StartBlock
	for base := uint64(0); base < LowStubWindowSize; base += PageSize {
		addr := address.Address(base)
		page, ok := readPage(phys, addr)
		if !ok {
			continue
		}
		if !checkPagePAE(addr, page) {
			continue
		}
		out = append(out, StartBlock{Arch: arch.X86PAE, Dtb: addr, KernelHint: address.Null})
	}
	return out
}
