// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdb

import (
	"testing"

	"github.com/memflow/memflow-win32-go/internal/pdbtest"
	"github.com/memflow/memflow-win32-go/xerr"
)

func bit(p uint8) *uint8 { return &p }

func testImage() pdbtest.Image {
	return pdbtest.Image{
		Signature: [16]byte{0xa2, 0x91, 0xe1, 0xec, 0xff, 0x0c, 0x65, 0x44, 0xae, 0x46, 0xdf, 0x96, 0xc2, 0x26, 0x38, 0x45},
		Age:       1,
		Structs: []pdbtest.Struct{
			{Name: "_LIST_ENTRY", Fields: []pdbtest.Field{
				{Name: "Flink", Offset: 0},
				{Name: "Blink", Offset: 8},
			}},
			{Name: "_EPROCESS", Fields: []pdbtest.Field{
				{Name: "UniqueProcessId", Offset: 0x180},
				{Name: "ActiveProcessLinks", Offset: 0x188},
			}},
			{Name: "_MMVAD_FLAGS", Fields: []pdbtest.Field{
				{Name: "VadType", Offset: 0, BitPos: bit(4)},
				{Name: "Protection", Offset: 0, BitPos: bit(7)},
			}},
		},
		Symbols: []pdbtest.Symbol{
			{Name: "MmPhysicalMemoryBlock", Section: 1, Offset: 0x20},
			{Name: "PsInitialSystemProcess", Section: 2, Offset: 0x48},
		},
		SectionVAs: []uint32{0x1000, 0x200000},
	}
}

func TestFindStruct(t *testing.T) {
	f, err := Open(pdbtest.Build(testImage()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	eproc, ok := f.FindStruct("_EPROCESS")
	if !ok {
		t.Fatal("_EPROCESS not found")
	}
	fld, ok := eproc.FindField("ActiveProcessLinks")
	if !ok {
		t.Fatal("ActiveProcessLinks not found")
	}
	if fld.Offset != 0x188 {
		t.Errorf("ActiveProcessLinks offset = %#x, want 0x188", fld.Offset)
	}

	if _, ok := f.FindStruct("_DOES_NOT_EXIST"); ok {
		t.Error("FindStruct returned a struct for a name the type stream lacks")
	}
	if _, ok := eproc.FindField("NoSuchField"); ok {
		t.Error("FindField returned a field the struct lacks")
	}
}

func TestFindStructBitfield(t *testing.T) {
	f, err := Open(pdbtest.Build(testImage()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	flags, ok := f.FindStruct("_MMVAD_FLAGS")
	if !ok {
		t.Fatal("_MMVAD_FLAGS not found")
	}
	fld, ok := flags.FindField("Protection")
	if !ok {
		t.Fatal("Protection not found")
	}
	if fld.BitOffset != 7 {
		t.Errorf("Protection bit offset = %d, want 7", fld.BitOffset)
	}
	if fld.Offset != 0 {
		t.Errorf("Protection byte offset = %d, want 0", fld.Offset)
	}
}

func TestFindSymbol(t *testing.T) {
	f, err := Open(pdbtest.Build(testImage()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Section 1 maps at 0x1000, symbol offset 0x20.
	rva, ok := f.FindSymbol("MmPhysicalMemoryBlock")
	if !ok {
		t.Fatal("MmPhysicalMemoryBlock not found")
	}
	if rva != 0x1020 {
		t.Errorf("rva = %#x, want 0x1020", rva)
	}

	// Section 2 maps at 0x200000.
	rva, ok = f.FindSymbol("PsInitialSystemProcess")
	if !ok {
		t.Fatal("PsInitialSystemProcess not found")
	}
	if rva != 0x200048 {
		t.Errorf("rva = %#x, want 0x200048", rva)
	}

	if _, ok := f.FindSymbol("NoSuchSymbol"); ok {
		t.Error("FindSymbol returned an rva for an unknown symbol")
	}
}

func TestGuidString(t *testing.T) {
	f, err := Open(pdbtest.Build(testImage()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	guid, err := f.GuidString()
	if err != nil {
		t.Fatalf("GuidString: %v", err)
	}
	// The first three GUID fields byte-swap into display order; the age
	// is appended with no separator.
	if guid != "ECE191A20CFF4465AE46DF96C22638451" {
		t.Errorf("guid = %q, want %q", guid, "ECE191A20CFF4465AE46DF96C22638451")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := Open([]byte("not a pdb at all"))
	if !xerr.Is(err, xerr.Offset) {
		t.Fatalf("err = %v, want Offset", err)
	}

	long := make([]byte, 0x2000)
	copy(long, "Microsoft C/C++ MSF 9.99")
	if _, err := Open(long); !xerr.Is(err, xerr.Offset) {
		t.Fatalf("err = %v, want Offset for bad magic", err)
	}
}
