// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startblock

import (
	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
)

// x64LowStubSignature is the fixed little-endian qword the Windows loader's
// processor block begins with on every build this package targets.
const x64LowStubSignature = uint64(0x00000001_00000000)

const (
	x64DtbOffset        = 0xA0
	x64KernelHintOffset = 0x278
)

// scanX64 implements the x64 low-stub scanner. Match predicate: a
// 0x1000-aligned page whose first qword equals x64LowStubSignature and
// whose qword at +0xA0 is a non-null, page-aligned physical address. The
// matching page carries the kernel dtb at +0xA0 and a virtual kernel-base
// hint at +0x278, both fixed by the loader ABI.
func scanX64(phys memio.PhysicalMemory) []StartBlock {
	var out []StartBlock
	for base := uint64(0); base < LowStubWindowSize; base += PageSize {
		page, ok := readPage(phys, address.Address(base))
		if !ok {
			continue
		}
		if byteOrder.Uint64(page[0:8]) != x64LowStubSignature {
			continue
		}
		dtb := address.Address(byteOrder.Uint64(page[x64DtbOffset : x64DtbOffset+8]))
		if dtb.IsNull() || dtb.Uint64()%PageSize != 0 {
			continue
		}
		hint := address.Address(byteOrder.Uint64(page[x64KernelHintOffset : x64KernelHintOffset+8]))
		out = append(out, StartBlock{Arch: arch.X64, Dtb: dtb, KernelHint: hint})
	}
	return out
}
