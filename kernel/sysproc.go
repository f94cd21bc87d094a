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

const sysProcStage = "SysProcFinder"

// sysProcExports lists the exports that point at the initial system
// process, in preference order.
var sysProcExports = []string{"PsInitialSystemProcess", "PsActiveProcessHead"}

// FindSysProc locates the initial system EPROCESS: resolve one of the
// well-known exports and dereference the pointer it labels.
func FindSysProc(mem memio.MemoryView, a *arch.Architecture, kernelBase address.Address) (address.Address, error) {
	for _, name := range sysProcExports {
		rva, err := pe.Export(mem, kernelBase, name)
		if err != nil {
			continue
		}
		ptr, ok := readPointer(mem, a, kernelBase.Add(int64(rva)))
		if ok && !ptr.IsNull() {
			return ptr, nil
		}
	}
	return address.Null, xerr.New(xerr.NotFound, sysProcStage, "unable to resolve the initial system process")
}

func readPointer(mem memio.MemoryView, a *arch.Architecture, addr address.Address) (address.Address, bool) {
	buf := make([]byte, a.PointerSize)
	n, err := mem.ReadAt(addr, buf)
	if err != nil || n < len(buf) {
		return address.Null, false
	}
	if a.PointerSize == 4 {
		return address.Address(binary.LittleEndian.Uint32(buf)), true
	}
	return address.Address(binary.LittleEndian.Uint64(buf)), true
}
