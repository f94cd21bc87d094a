// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/xerr"
)

// flatMem is a minimal memio.MemoryView over a single contiguous buffer,
// addressed from 0, used to exercise the header/export/debug-directory
// parsers against a hand-assembled image without a real translator.
type flatMem struct {
	data []byte
}

func (f *flatMem) ReadAt(addr address.Address, buf []byte) (int, error) {
	start := addr.Uint64()
	if start >= uint64(len(f.data)) {
		return 0, bytes.ErrTooLarge
	}
	n := copy(buf, f.data[start:])
	if n < len(buf) {
		return n, bytes.ErrTooLarge
	}
	return n, nil
}

// putAt grows buf as needed and writes v (via binary.Write) at the given
// offset, returning the buffer and the offset just past what was written.
func putAt(buf []byte, off int, v interface{}) []byte {
	var tmp bytes.Buffer
	if err := binary.Write(&tmp, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	end := off + tmp.Len()
	if end > len(buf) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[off:end], tmp.Bytes())
	return buf
}

// buildPE64 assembles a minimal well-formed PE32+ image: DOS header, PE
// signature, file header, optional header with an export directory and a
// CodeView debug directory, the export table itself (one named export,
// "NtBuildNumber"), and a debug entry with name "ntkrnlmp.pdb".
func buildPE64(t *testing.T) []byte {
	t.Helper()

	const (
		lfanew      = 0x80
		optBase     = lfanew + 4 + 20
		dirBase     = 0x400 // export directory
		namesBase   = 0x500 // name-pointer array
		funcsBase   = 0x520 // function RVA array
		ordsBase    = 0x540 // ordinal array
		strBase     = 0x560 // export name strings
		debugBase   = 0x600
		cvBase      = 0x680
		moduleName  = "ntoskrnl.exe\x00"
		exportName  = "NtBuildNumber\x00"
		pdbFileName = "ntkrnlmp.pdb\x00"
	)

	buf := make([]byte, 0x800)

	buf = putAt(buf, 0, DosHeader{EMagic: DosMagic, ELfanew: lfanew})
	buf = putAt(buf, lfanew, uint32(0x00004550))
	buf = putAt(buf, lfanew+4, FileHeader{Machine: 0x8664, NumberOfSections: 1})

	opt := OptionalHeader64{
		Magic:               optMagicPE32p,
		SizeOfImage:         0x800000,
		NumberOfRvaAndSizes: 16,
	}
	opt.DataDirectory[DirExport] = DataDirectory{VirtualAddress: dirBase, Size: 0x100}
	opt.DataDirectory[DirDebug] = DataDirectory{VirtualAddress: debugBase, Size: uint32(binary.Size(DebugDirectory{}))}
	buf = putAt(buf, optBase, opt)

	buf = putAt(buf, strBase, []byte(moduleName))
	buf = putAt(buf, strBase+len(moduleName), []byte(exportName))

	exp := ExportDirectory{
		Name:                  strBase,
		NumberOfFunctions:     1,
		NumberOfNames:         1,
		AddressOfFunctions:    funcsBase,
		AddressOfNames:        namesBase,
		AddressOfNameOrdinals: ordsBase,
	}
	buf = putAt(buf, dirBase, exp)
	buf = putAt(buf, namesBase, uint32(strBase+len(moduleName)))
	buf = putAt(buf, ordsBase, uint16(0))
	buf = putAt(buf, funcsBase, uint32(0x1234))

	dd := DebugDirectory{
		Type:             ImageDebugTypeCodeView,
		AddressOfRawData: cvBase,
		SizeOfData:       uint32(binary.Size(CvInfoPDB70Header{}) + len(pdbFileName)),
	}
	buf = putAt(buf, debugBase, dd)

	var guid [16]byte
	copy(guid[:], []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10})
	cv := CvInfoPDB70Header{CvSignature: CVSignatureRSDS, Signature: guid, Age: 3}
	buf = putAt(buf, cvBase, cv)
	buf = putAt(buf, cvBase+binary.Size(CvInfoPDB70Header{}), []byte(pdbFileName))

	return buf
}

func TestParseHeadersPE64(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	h, err := ParseHeaders(mem, address.Address(0))
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	if !h.Is64 {
		t.Error("expected Is64 == true")
	}
	if h.SizeOfImage != 0x800000 {
		t.Errorf("SizeOfImage = %#x, want 0x800000", h.SizeOfImage)
	}
}

func TestParseHeadersRejectsBadMagic(t *testing.T) {
	data := buildPE64(t)
	data[0] = 0 // clobber 'M' of "MZ"
	mem := &flatMem{data: data}
	_, err := ParseHeaders(mem, address.Address(0))
	if !xerr.Is(err, xerr.InvalidExeFile) {
		t.Fatalf("err = %v, want InvalidExeFile", err)
	}
}

func TestParseHeadersRejectsOversizedLfanew(t *testing.T) {
	data := buildPE64(t)
	var dos DosHeader
	binary.Read(bytes.NewReader(data[:binary.Size(DosHeader{})]), binary.LittleEndian, &dos)
	dos.ELfanew = MaxELfanew + 1
	var tmp bytes.Buffer
	binary.Write(&tmp, binary.LittleEndian, dos)
	copy(data[:tmp.Len()], tmp.Bytes())

	mem := &flatMem{data: data}
	_, err := ParseHeaders(mem, address.Address(0))
	if !xerr.Is(err, xerr.InvalidExeFile) {
		t.Fatalf("err = %v, want InvalidExeFile", err)
	}
}

func TestTryGetPeName(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	name, err := TryGetPeName(mem, address.Address(0))
	if err != nil {
		t.Fatalf("TryGetPeName: %v", err)
	}
	if name != "ntoskrnl.exe" {
		t.Errorf("name = %q, want %q", name, "ntoskrnl.exe")
	}
}

func TestTryGetPeSize(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	size, err := TryGetPeSize(mem, address.Address(0))
	if err != nil {
		t.Fatalf("TryGetPeSize: %v", err)
	}
	if size != 0x800000 {
		t.Errorf("size = %#x, want 0x800000", size)
	}
}

func TestTryGetPeImageZeroFillsPastBackingStore(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	img, err := TryGetPeImage(mem, &arch.X64Arch, address.Address(0))
	if err != nil {
		t.Fatalf("TryGetPeImage: %v", err)
	}
	if uint64(len(img)) != 0x800000 {
		t.Fatalf("len(img) = %#x, want 0x800000", len(img))
	}
	// Past the synthetic image's real content, reads fail and are zeroed.
	if img[0x700000] != 0 {
		t.Errorf("expected zero-fill past backing store, got %#x", img[0x700000])
	}
}

func TestExport(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	rva, err := Export(mem, address.Address(0), "NtBuildNumber")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rva != 0x1234 {
		t.Errorf("rva = %#x, want 0x1234", rva)
	}
}

func TestExportNotFound(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	_, err := Export(mem, address.Address(0), "DoesNotExist")
	if !xerr.Is(err, xerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestDebugCodeView(t *testing.T) {
	mem := &flatMem{data: buildPE64(t)}
	info, err := DebugCodeView(mem, address.Address(0))
	if err != nil {
		t.Fatalf("DebugCodeView: %v", err)
	}
	if info.Age != 3 {
		t.Errorf("Age = %d, want 3", info.Age)
	}
	if info.Name != "ntkrnlmp.pdb" {
		t.Errorf("Name = %q, want %q", info.Name, "ntkrnlmp.pdb")
	}
	if info.Guid[0] != 0x01 || info.Guid[15] != 0x10 {
		t.Errorf("Guid = %x, unexpected", info.Guid)
	}
}

func TestDebugCodeViewNoDebugDirectory(t *testing.T) {
	data := buildPE64(t)
	var dos DosHeader
	binary.Read(bytes.NewReader(data[:binary.Size(DosHeader{})]), binary.LittleEndian, &dos)
	optBase := int(dos.ELfanew) + 4 + binary.Size(FileHeader{})
	var opt OptionalHeader64
	binary.Read(bytes.NewReader(data[optBase:optBase+binary.Size(OptionalHeader64{})]), binary.LittleEndian, &opt)
	opt.DataDirectory[DirDebug] = DataDirectory{}
	var tmp bytes.Buffer
	binary.Write(&tmp, binary.LittleEndian, opt)
	copy(data[optBase:], tmp.Bytes())

	mem := &flatMem{data: data}
	_, err := DebugCodeView(mem, address.Address(0))
	if !xerr.Is(err, xerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}
