// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package offsets defines the kernel-side structure-field offset table and
// the resolver that populates it: from a user-supplied offset file, from
// the built-in table, or from a PDB fetched off a symbol store.
package offsets

import (
	"fmt"

	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/kernel"
)

// MmVadOffsets are the _MMVAD_SHORT / _MMVAD_FLAGS offsets needed to walk
// a process VAD tree. Every field degrades to 0 on builds whose PDB lacks
// it; ProtectionBit is a bit offset, not a byte offset.
type MmVadOffsets struct {
	VadNode         uint32 `toml:"vad_node"`
	StartingVpn     uint32 `toml:"starting_vpn"`
	EndingVpn       uint32 `toml:"ending_vpn"`
	StartingVpnHigh uint32 `toml:"starting_vpn_high"`
	EndingVpnHigh   uint32 `toml:"ending_vpn_high"`
	U               uint32 `toml:"u"`
	ProtectionBit   uint32 `toml:"protection_bit"`
}

// OffsetTable is the full set of kernel-object field offsets the higher OS
// layer traverses processes, threads, and VADs with. All values are byte
// offsets except MmVad.ProtectionBit. Fields that legitimately vanish on
// older builds (PhysMemBlock, EprocWow64, TebPebX86, all of MmVad) encode
// as 0 rather than failing resolution.
type OffsetTable struct {
	ListBlink uint32 `toml:"list_blink"`
	EprocLink uint32 `toml:"eproc_link"`

	PhysMemBlock uint32 `toml:"phys_mem_block"`

	KprocDtb uint32 `toml:"kproc_dtb"`

	EprocPid         uint32 `toml:"eproc_pid"`
	EprocName        uint32 `toml:"eproc_name"`
	EprocPeb         uint32 `toml:"eproc_peb"`
	EprocSectionBase uint32 `toml:"eproc_section_base"`
	EprocExitStatus  uint32 `toml:"eproc_exit_status"`
	EprocThreadList  uint32 `toml:"eproc_thread_list"`
	EprocWow64       uint32 `toml:"eproc_wow64"`
	EprocVadRoot     uint32 `toml:"eproc_vad_root"`

	KthreadTeb       uint32 `toml:"kthread_teb"`
	EthreadListEntry uint32 `toml:"ethread_list_entry"`
	TebPeb           uint32 `toml:"teb_peb"`
	TebPebX86        uint32 `toml:"teb_peb_x86"`

	MmVad MmVadOffsets `toml:"mmvad"`
}

// ArchTag is the lowercase architecture tag used in persisted offset files
// and generated file names. PAE shares the x86 tag: kernel-object layouts
// do not differ between the two paging modes.
type ArchTag string

const (
	ArchTagX86     ArchTag = "x86"
	ArchTagX64     ArchTag = "x64"
	ArchTagAArch64 ArchTag = "aarch64"
)

// TagForIdent maps an architecture to its offset-file tag.
func TagForIdent(ident arch.Ident) ArchTag {
	switch ident {
	case arch.X86, arch.X86PAE:
		return ArchTagX86
	case arch.AArch64:
		return ArchTagAArch64
	default:
		return ArchTagX64
	}
}

// Header identifies which kernel build an offset table belongs to.
type Header struct {
	PdbFileName    string  `toml:"pdb_file_name"`
	PdbGuid        string  `toml:"pdb_guid"`
	NtMajorVersion uint32  `toml:"nt_major_version"`
	NtMinorVersion uint32  `toml:"nt_minor_version"`
	NtBuildNumber  uint32  `toml:"nt_build_number"`
	Arch           ArchTag `toml:"arch"`
}

// Version returns the header's version triple.
func (h Header) Version() kernel.Version {
	return kernel.Version{Major: h.NtMajorVersion, Minor: h.NtMinorVersion, Build: h.NtBuildNumber}
}

// File is the persisted serialization form: a header naming the build plus
// the offsets themselves.
type File struct {
	Header  Header      `toml:"header"`
	Offsets OffsetTable `toml:"offsets"`
}

// FileName returns the conventional name a generated offset file is stored
// under: {major}_{minor}_{build}_{arch}_{guid}.toml.
func (f *File) FileName() string {
	return fmt.Sprintf("%d_%d_%d_%s_%s.toml",
		f.Header.NtMajorVersion, f.Header.NtMinorVersion, f.Header.NtBuildNumber,
		f.Header.Arch, f.Header.PdbGuid)
}
