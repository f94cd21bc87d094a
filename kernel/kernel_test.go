// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/internal/memiotest"
	"github.com/memflow/memflow-win32-go/internal/petest"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/xerr"
)

var errUnmapped = errors.New("unmapped")

// regionMem is a MemoryView over a handful of discontiguous regions; reads
// outside every region fail, reads running off a region's end are partial.
type regionMem struct {
	regions []region
}

type region struct {
	base uint64
	data []byte
}

func (m *regionMem) ReadAt(addr address.Address, buf []byte) (int, error) {
	a := addr.Uint64()
	for _, r := range m.regions {
		if a >= r.base && a < r.base+uint64(len(r.data)) {
			n := copy(buf, r.data[a-r.base:])
			if n < len(buf) {
				return n, errUnmapped
			}
			return n, nil
		}
	}
	return 0, errUnmapped
}

var testSignature = [16]byte{0xa2, 0x91, 0xe1, 0xec, 0xff, 0x0c, 0x65, 0x44, 0xae, 0x46, 0xdf, 0x96, 0xc2, 0x26, 0x38, 0x45}

const (
	ntBuildRva      = 0x3000
	rtlGetVerRva    = 0x3100
	sysProcRva      = 0x3200
	testSysProcAddr = 0xfffffa8000c40040
)

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func testKernelImage(buildNumber uint32, rtlCode []byte) []byte {
	return petest.Build(petest.Image{
		ModuleName:  "ntoskrnl.exe",
		SizeOfImage: 0x4000,
		Exports: []petest.Export{
			{Name: "NtBuildNumber", Rva: ntBuildRva},
			{Name: "PsInitialSystemProcess", Rva: sysProcRva},
			{Name: "RtlGetVersion", Rva: rtlGetVerRva},
		},
		PdbFileName: "ntkrnlmp.pdb",
		Signature:   testSignature,
		Age:         1,
		Data: map[uint32][]byte{
			ntBuildRva:   u32le(buildNumber),
			rtlGetVerRva: rtlCode,
			sysProcRva:   u64le(testSysProcAddr),
		},
	})
}

func TestFindGuid(t *testing.T) {
	mem := &regionMem{regions: []region{{base: 0, data: testKernelImage(7601, nil)}}}
	guid, err := FindGuid(mem, address.Address(0))
	if err != nil {
		t.Fatalf("FindGuid: %v", err)
	}
	if guid.FileName != "ntkrnlmp.pdb" {
		t.Errorf("FileName = %q", guid.FileName)
	}
	if guid.Guid != "ECE191A20CFF4465AE46DF96C22638451" {
		t.Errorf("Guid = %q, want ECE191A20CFF4465AE46DF96C22638451", guid.Guid)
	}
}

func TestNewGuidRendering(t *testing.T) {
	sig := [16]byte{0x0a, 0x0f, 0xb6, 0x9f, 0x5f, 0xd2, 0x64, 0xd5, 0x46, 0x73, 0x57, 0x0e, 0x37, 0xb3, 0x8a, 0x31}
	g := NewGuid("ntkrnlmp.pdb", sig, 0x12)
	// Uppercase hex of the signature bytes, age appended, no separators.
	if g.Guid != "0A0FB69F5FD264D54673570E37B38A3112" {
		t.Errorf("Guid = %q", g.Guid)
	}
}

func TestFindWinverFromKuserSharedData(t *testing.T) {
	kuser := make([]byte, 0x1000)
	binary.LittleEndian.PutUint32(kuser[0x26c:], 6)
	binary.LittleEndian.PutUint32(kuser[0x270:], 1)
	mem := &regionMem{regions: []region{
		{base: 0, data: testKernelImage(7601, nil)},
		{base: 0x7ffe0000, data: kuser},
	}}

	v, err := FindWinver(mem, address.Address(0))
	if err != nil {
		t.Fatalf("FindWinver: %v", err)
	}
	want := Version{Major: 6, Minor: 1, Build: 7601}
	if v != want {
		t.Errorf("version = %v, want %v", v, want)
	}
}

func TestFindWinverRtlGetVersionFallback(t *testing.T) {
	// No KUSER_SHARED_DATA mapping; the short mov-imm8 encoding stores
	// the major version.
	code := []byte{0x90, 0x90, 0xc7, 0x41, 0x04, 0x0a, 0x90, 0x90}
	mem := &regionMem{regions: []region{{base: 0, data: testKernelImage(19041, code)}}}

	v, err := FindWinver(mem, address.Address(0))
	if err != nil {
		t.Fatalf("FindWinver: %v", err)
	}
	want := Version{Major: 10, Minor: 0, Build: 19041}
	if v != want {
		t.Errorf("version = %v, want %v", v, want)
	}
}

func TestFindWinverFullMovEncoding(t *testing.T) {
	// mov dword [rcx+4], imm32: 48 C7 41 04 <imm32>.
	code := []byte{0x48, 0xc7, 0x41, 0x04, 0x0a, 0x00, 0x00, 0x00}
	mem := &regionMem{regions: []region{{base: 0, data: testKernelImage(18362, code)}}}

	v, err := FindWinver(mem, address.Address(0))
	if err != nil {
		t.Fatalf("FindWinver: %v", err)
	}
	if v.Major != 10 || v.Build != 18362 {
		t.Errorf("version = %v, want 10.x.18362", v)
	}
}

func TestFindWinverZeroBuildNumberFails(t *testing.T) {
	mem := &regionMem{regions: []region{{base: 0, data: testKernelImage(0, nil)}}}
	_, err := FindWinver(mem, address.Address(0))
	if !xerr.Is(err, xerr.InvalidExeFile) {
		t.Fatalf("err = %v, want InvalidExeFile", err)
	}
}

func TestFindSysProc(t *testing.T) {
	mem := &regionMem{regions: []region{{base: 0, data: testKernelImage(7601, nil)}}}
	base, err := FindSysProc(mem, &arch.X64Arch, address.Address(0))
	if err != nil {
		t.Fatalf("FindSysProc: %v", err)
	}
	if base != address.Address(testSysProcAddr) {
		t.Errorf("eprocess base = %v, want %#x", base, uint64(testSysProcAddr))
	}
}

func TestFindSysProcNotFound(t *testing.T) {
	img := petest.Build(petest.Image{
		ModuleName:  "ntoskrnl.exe",
		SizeOfImage: 0x4000,
		Exports:     []petest.Export{{Name: "NtBuildNumber", Rva: ntBuildRva}},
	})
	mem := &regionMem{regions: []region{{base: 0, data: img}}}
	_, err := FindSysProc(mem, &arch.X64Arch, address.Address(0))
	if !xerr.Is(err, xerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestLocateNtosWithVaHint(t *testing.T) {
	const base = 0x140000000
	mem := &regionMem{regions: []region{{base: base, data: testKernelImage(7601, nil)}}}
	vat := memiotest.IdentityTranslate{}

	found, size, err := LocateNtos(mem, vat, &arch.X64Arch, address.Null, address.Address(base+0x1000))
	if err != nil {
		t.Fatalf("LocateNtos: %v", err)
	}
	if found != address.Address(base) {
		t.Errorf("base = %v, want %#x", found, uint64(base))
	}
	if size != 0x4000 {
		t.Errorf("size = %#x, want 0x4000", size)
	}
}

func TestLocateNtosWithPageMap(t *testing.T) {
	const base = 0xffff800000200000
	mem := &regionMem{regions: []region{{base: base, data: testKernelImage(7601, nil)}}}
	vat := memiotest.IdentityTranslate{
		Ranges: []memio.Range{{Base: address.Address(base), Size: 2 * 1024 * 1024}},
	}

	found, _, err := LocateNtos(mem, vat, &arch.X64Arch, address.Null, address.Null)
	if err != nil {
		t.Fatalf("LocateNtos: %v", err)
	}
	if found != address.Address(base) {
		t.Errorf("base = %v, want %#x", found, uint64(base))
	}
}

func TestLocateNtosNotFound(t *testing.T) {
	mem := &regionMem{}
	vat := memiotest.IdentityTranslate{}
	_, _, err := LocateNtos(mem, vat, &arch.X64Arch, address.Null, address.Null)
	if !xerr.Is(err, xerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}
