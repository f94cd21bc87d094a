// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

// UserOffsets is the compile-time table of user-space PEB/TEB/LDR field
// offsets for one architecture.
// Unlike the kernel-side OffsetTable (package offsets), these never change
// across Windows builds for a given architecture's calling convention, so
// they are baked in rather than resolved from a PDB.
type UserOffsets struct {
	PebLdr            uint32 // _PEB::Ldr
	PebProcessParams  uint32 // _PEB::ProcessParameters
	LdrList           uint32 // _PEB_LDR_DATA::InLoadOrderModuleList
	LdrDataBase       uint32 // _LDR_DATA_TABLE_ENTRY::DllBase
	LdrDataSize       uint32 // _LDR_DATA_TABLE_ENTRY::SizeOfImage
	LdrDataFullName   uint32 // _LDR_DATA_TABLE_ENTRY::FullDllName
	LdrDataBaseName   uint32 // _LDR_DATA_TABLE_ENTRY::BaseDllName
	PpmImagePathName  uint32 // _RTL_USER_PROCESS_PARAMETERS::ImagePathName
	PpmCommandLine    uint32 // _RTL_USER_PROCESS_PARAMETERS::CommandLine
}

// UserOffsetsX86 holds the PEB/LDR layout for 32-bit processes (both plain
// x86 and WoW64 processes running under x64/AArch64).
var UserOffsetsX86 = UserOffsets{
	PebLdr:           0xc,
	PebProcessParams: 0x10,
	LdrList:          0xc,
	LdrDataBase:      0x18,
	LdrDataSize:      0x20,
	LdrDataFullName:  0x24,
	LdrDataBaseName:  0x2c,
	PpmImagePathName: 0x38,
	PpmCommandLine:   0x40,
}

// UserOffsetsX64 holds the PEB/LDR layout for native 64-bit processes on
// x64. AArch64 shares the same layout since both use the LLP64 PEB shape.
var UserOffsetsX64 = UserOffsets{
	PebLdr:           0x18,
	PebProcessParams: 0x20,
	LdrList:          0x10,
	LdrDataBase:      0x30,
	LdrDataSize:      0x40,
	LdrDataFullName:  0x48,
	LdrDataBaseName:  0x58,
	PpmImagePathName: 0x60,
	PpmCommandLine:   0x70,
}

// UserOffsetsAArch64 is identical to UserOffsetsX64: AArch64 Windows uses
// the same PEB/LDR layout as x64.
var UserOffsetsAArch64 = UserOffsetsX64

// ForIdent returns the user-space offset table for ident.
func ForIdent(ident Ident) UserOffsets {
	switch ident {
	case X86, X86PAE:
		return UserOffsetsX86
	case X64:
		return UserOffsetsX64
	case AArch64:
		return UserOffsetsAArch64
	default:
		return UserOffsets{}
	}
}
