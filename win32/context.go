// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package win32 orchestrates the full kernel bootstrap: from a
// physical-memory connector and a translation engine to a ready-to-use
// KernelContext, via start-block discovery, ntoskrnl location, build
// identification, and offset resolution.
package win32

import (
	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/kernel"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/offsets"
)

// OsInfo describes the located kernel image.
type OsInfo struct {
	Base address.Address
	Size uint64
	Arch arch.Ident
}

// KernelInfo is everything the scanner learns about a target before
// offsets are resolved: where the kernel is, which build it is, and where
// the initial system process lives.
type KernelInfo struct {
	OsInfo OsInfo
	Dtb    address.Address

	KernelGuid    *kernel.Guid // nil when no usable CodeView entry was found
	KernelVersion kernel.Version

	EprocessBase address.Address
}

// KernelContext is the fully bootstrapped target: immutable identification
// plus the composed memory handles every higher layer (process, thread,
// module, VAD enumeration) reads through. Built once; immutable afterward.
type KernelContext struct {
	OsInfo OsInfo
	Dtb    address.Address

	KernelGuid    *kernel.Guid
	KernelVersion kernel.Version

	EprocessBase address.Address

	Offsets     *offsets.OffsetTable
	ArchOffsets arch.UserOffsets

	// Phys and Vat are the caller's handles, possibly wrapped in the
	// builder's caches; Mem is the kernel virtual view rooted at Dtb.
	Phys memio.PhysicalMemory
	Vat  memio.VirtualTranslate
	Mem  memio.MemoryView
}

// Architecture returns the full architecture description for the context.
func (k *KernelContext) Architecture() *arch.Architecture {
	return arch.ByIdent(k.OsInfo.Arch)
}
