// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startblock

import (
	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
)

// x86LowStubSignature is the 32-bit low stub's equivalent of the x64
// signature -- same loader convention, narrower fields.
const x86LowStubSignature = uint32(0x00000001)

const (
	x86DtbOffset        = 0xA0
	x86KernelHintOffset = 0x278
)

// scanX86 implements the non-PAE x86 low-stub scanner. Same principle as
// the x64 scanner with 32-bit fields; the kernel hint may legitimately be
// NULL on this architecture.
func scanX86(phys memio.PhysicalMemory) []StartBlock {
	var out []StartBlock
	for base := uint64(0); base < LowStubWindowSize; base += PageSize {
		page, ok := readPage(phys, address.Address(base))
		if !ok {
			continue
		}
		if byteOrder.Uint32(page[0:4]) != x86LowStubSignature {
			continue
		}
		dtb := address.Address(uint64(byteOrder.Uint32(page[x86DtbOffset : x86DtbOffset+4])))
		if dtb.IsNull() || dtb.Uint64()%PageSize != 0 {
			continue
		}
		hint := address.Address(uint64(byteOrder.Uint32(page[x86KernelHintOffset : x86KernelHintOffset+4])))
		out = append(out, StartBlock{Arch: arch.X86, Dtb: dtb, KernelHint: hint})
	}
	return out
}
