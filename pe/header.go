// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pe implements just enough PE32/PE32+ parsing to reconstruct a
// Windows kernel image from a sparsely-mapped virtual address space and
// pull its name, size, exports, and CodeView debug entry out of it. The
// struct definitions mirror the winnt.h image headers but keep only the
// handful of fields the bootstrap pipeline actually reads.
package pe

import "encoding/binary"

// DOS/PE magic numbers.
const (
	DosMagic = 0x5a4d // "MZ"
	NtMagic  = 0x4550 // "PE\x00\x00" as a little-endian uint32 low half
)

// MaxELfanew is the largest e_lfanew this module accepts before rejecting
// the image as not a PE file.
const MaxELfanew = 0x800

// DosHeader is the IMAGE_DOS_HEADER prefix every PE file begins with. Only
// e_magic and e_lfanew are meaningful to us; the rest is the MS-DOS stub.
type DosHeader struct {
	EMagic  uint16
	_       [0x3c - 2]byte
	ELfanew uint32
}

// FileHeader is IMAGE_FILE_HEADER.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory is one entry of IMAGE_OPTIONAL_HEADER's DataDirectory array.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// Data directory indices used by this module.
const (
	DirExport = 0
	DirDebug  = 6
)

const (
	optMagicPE32    = 0x10b
	optMagicPE32Rom = 0x107
	optMagicPE32p   = 0x20b
)

// OptionalHeader32 is IMAGE_OPTIONAL_HEADER (PE32).
type OptionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders                uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]DataDirectory
}

// OptionalHeader64 is IMAGE_OPTIONAL_HEADER64 (PE32+).
type OptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders                uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]DataDirectory
}

// ExportDirectory is IMAGE_EXPORT_DIRECTORY.
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// DebugDirectory is IMAGE_DEBUG_DIRECTORY.
type DebugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// ImageDebugTypeCodeView is IMAGE_DEBUG_TYPE_CODEVIEW.
const ImageDebugTypeCodeView = 2

// CVSignatureRSDS is the CodeView signature for a PDB 7.0 entry ('RSDS').
const CVSignatureRSDS = 0x53445352

// CvInfoPDB70Header is the fixed-size prefix of a CV_INFO_PDB70 record; the
// null-terminated PDB file name immediately follows it.
type CvInfoPDB70Header struct {
	CvSignature uint32
	Signature   [16]byte // GUID, in the PDB's on-disk byte order
	Age         uint32
}

var byteOrder = binary.LittleEndian
