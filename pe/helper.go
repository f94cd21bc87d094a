// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/xerr"
)

const stage = "PeHelper"

// Headers is the parsed subset of a PE image's headers this module needs:
// enough to find its name, size, export table, and debug directory.
type Headers struct {
	Is64             bool
	File             FileHeader
	SizeOfImage      uint32
	NumberOfRvaSizes uint32
	DataDirectory    [16]DataDirectory
}

// readAt reads exactly n bytes at addr from mem, returning InvalidExeFile on
// any short read -- headers must be read in full, unlike the zero-filled
// bulk image read in TryGetPeImage.
func readAt(mem memio.MemoryView, addr address.Address, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := mem.ReadAt(addr, buf)
	if err != nil || read < n {
		return nil, xerr.Wrap(xerr.InvalidExeFile, stage, "short read parsing headers", err)
	}
	return buf, nil
}

// ParseHeaders reads and validates the DOS/NT/optional headers of the image
// at base, returning just enough to drive TryGetPeName/Size/Image and the
// debug-directory walk in package kernel.
func ParseHeaders(mem memio.MemoryView, base address.Address) (*Headers, error) {
	dosBuf, err := readAt(mem, base, binary.Size(DosHeader{}))
	if err != nil {
		return nil, err
	}
	var dos DosHeader
	if err := binary.Read(bytes.NewReader(dosBuf), byteOrder, &dos); err != nil {
		return nil, xerr.Wrap(xerr.InvalidExeFile, stage, "decoding dos header", err)
	}
	if dos.EMagic != DosMagic {
		return nil, xerr.New(xerr.InvalidExeFile, stage, "missing MZ signature")
	}
	if dos.ELfanew > MaxELfanew {
		return nil, xerr.New(xerr.InvalidExeFile, stage, "e_lfanew exceeds sanity bound")
	}

	sigAndFile, err := readAt(mem, base.Add(int64(dos.ELfanew)), 4+binary.Size(FileHeader{}))
	if err != nil {
		return nil, err
	}
	sig := byteOrder.Uint32(sigAndFile[:4])
	if sig != 0x00004550 { // "PE\0\0"
		return nil, xerr.New(xerr.InvalidExeFile, stage, "missing PE signature")
	}
	var fh FileHeader
	if err := binary.Read(bytes.NewReader(sigAndFile[4:]), byteOrder, &fh); err != nil {
		return nil, xerr.Wrap(xerr.InvalidExeFile, stage, "decoding file header", err)
	}

	optBase := base.Add(int64(dos.ELfanew) + 4 + int64(binary.Size(FileHeader{})))
	magicBuf, err := readAt(mem, optBase, 2)
	if err != nil {
		return nil, err
	}
	magic := byteOrder.Uint16(magicBuf)

	h := &Headers{File: fh}
	switch magic {
	case optMagicPE32p:
		h.Is64 = true
		optBuf, err := readAt(mem, optBase, binary.Size(OptionalHeader64{}))
		if err != nil {
			return nil, err
		}
		var oh OptionalHeader64
		if err := binary.Read(bytes.NewReader(optBuf), byteOrder, &oh); err != nil {
			return nil, xerr.Wrap(xerr.InvalidExeFile, stage, "decoding optional header64", err)
		}
		h.SizeOfImage = oh.SizeOfImage
		h.NumberOfRvaSizes = oh.NumberOfRvaAndSizes
		h.DataDirectory = oh.DataDirectory
	case optMagicPE32, optMagicPE32Rom:
		optBuf, err := readAt(mem, optBase, binary.Size(OptionalHeader32{}))
		if err != nil {
			return nil, err
		}
		var oh OptionalHeader32
		if err := binary.Read(bytes.NewReader(optBuf), byteOrder, &oh); err != nil {
			return nil, xerr.Wrap(xerr.InvalidExeFile, stage, "decoding optional header32", err)
		}
		h.SizeOfImage = oh.SizeOfImage
		h.NumberOfRvaSizes = oh.NumberOfRvaAndSizes
		h.DataDirectory = oh.DataDirectory
	default:
		return nil, xerr.New(xerr.InvalidExeFile, stage, "unrecognized optional header magic")
	}

	return h, nil
}

// TryGetPeName reads just enough of the image at base to resolve its
// module name: DOS header -> PE header -> export directory -> Name RVA ->
// null-terminated ASCII string.
func TryGetPeName(mem memio.MemoryView, base address.Address) (string, error) {
	h, err := ParseHeaders(mem, base)
	if err != nil {
		return "", err
	}
	if h.NumberOfRvaSizes <= DirExport || h.DataDirectory[DirExport].VirtualAddress == 0 {
		return "", xerr.New(xerr.NotFound, stage, "no export directory")
	}

	expBuf, err := readAt(mem, base.Add(int64(h.DataDirectory[DirExport].VirtualAddress)), binary.Size(ExportDirectory{}))
	if err != nil {
		return "", err
	}
	var exp ExportDirectory
	if err := binary.Read(bytes.NewReader(expBuf), byteOrder, &exp); err != nil {
		return "", xerr.Wrap(xerr.InvalidExeFile, stage, "decoding export directory", err)
	}
	if exp.Name == 0 {
		return "", xerr.New(xerr.NotFound, stage, "export directory has no module name")
	}

	return readCString(mem, base.Add(int64(exp.Name)), 260)
}

// TryGetPeSize returns SizeOfImage from the optional header.
func TryGetPeSize(mem memio.MemoryView, base address.Address) (uint64, error) {
	h, err := ParseHeaders(mem, base)
	if err != nil {
		return 0, err
	}
	return uint64(h.SizeOfImage), nil
}

// TryGetPeImage reads SizeOfImage bytes starting at base, zero-filling any
// page that fails to translate.
func TryGetPeImage(mem memio.MemoryView, a *arch.Architecture, base address.Address) ([]byte, error) {
	h, err := ParseHeaders(mem, base)
	if err != nil {
		return nil, err
	}
	return memio.ReadAtZeroFill(mem, a, base, uint64(h.SizeOfImage)), nil
}

// Export resolves the RVA of the named export by walking the export
// directory's parallel arrays (AddressOfNames / AddressOfNameOrdinals /
// AddressOfFunctions).
func Export(mem memio.MemoryView, base address.Address, name string) (uint32, error) {
	h, err := ParseHeaders(mem, base)
	if err != nil {
		return 0, err
	}
	if h.NumberOfRvaSizes <= DirExport || h.DataDirectory[DirExport].VirtualAddress == 0 {
		return 0, xerr.New(xerr.NotFound, stage, "no export directory")
	}

	expAddr := base.Add(int64(h.DataDirectory[DirExport].VirtualAddress))
	expBuf, err := readAt(mem, expAddr, binary.Size(ExportDirectory{}))
	if err != nil {
		return 0, err
	}
	var exp ExportDirectory
	if err := binary.Read(bytes.NewReader(expBuf), byteOrder, &exp); err != nil {
		return 0, xerr.Wrap(xerr.InvalidExeFile, stage, "decoding export directory", err)
	}

	for i := uint32(0); i < exp.NumberOfNames; i++ {
		nameRvaBuf, err := readAt(mem, base.Add(int64(exp.AddressOfNames+i*4)), 4)
		if err != nil {
			return 0, err
		}
		nameRva := byteOrder.Uint32(nameRvaBuf)
		candidate, err := readCString(mem, base.Add(int64(nameRva)), 256)
		if err != nil {
			continue
		}
		if candidate != name {
			continue
		}

		ordBuf, err := readAt(mem, base.Add(int64(exp.AddressOfNameOrdinals+i*2)), 2)
		if err != nil {
			return 0, err
		}
		ordinal := byteOrder.Uint16(ordBuf)

		funcBuf, err := readAt(mem, base.Add(int64(exp.AddressOfFunctions+uint32(ordinal)*4)), 4)
		if err != nil {
			return 0, err
		}
		return byteOrder.Uint32(funcBuf), nil
	}

	return 0, xerr.New(xerr.NotFound, stage, "export not found: "+name)
}

// DebugInfo is the CodeView PDB 7.0 identity of an image: the GUID and age
// that must match the ones embedded in the PDB itself, plus the PDB file
// name the linker recorded (usually just a base name like "ntkrnlmp.pdb").
type DebugInfo struct {
	Guid [16]byte
	Age  uint32
	Name string
}

// DebugCodeView walks the image's debug directory at base looking for an
// IMAGE_DEBUG_TYPE_CODEVIEW entry with an 'RSDS' (PDB 7.0) signature. The
// GUID sits immediately after the 4-byte CvSignature, the age follows the
// GUID, and the null-terminated PDB file name follows the age.
func DebugCodeView(mem memio.MemoryView, base address.Address) (*DebugInfo, error) {
	h, err := ParseHeaders(mem, base)
	if err != nil {
		return nil, err
	}
	if h.NumberOfRvaSizes <= DirDebug || h.DataDirectory[DirDebug].VirtualAddress == 0 {
		return nil, xerr.New(xerr.NotFound, stage, "no debug directory")
	}

	dir := h.DataDirectory[DirDebug]
	entrySize := binary.Size(DebugDirectory{})
	count := int(dir.Size) / entrySize

	for i := 0; i < count; i++ {
		entryAddr := base.Add(int64(dir.VirtualAddress) + int64(i*entrySize))
		buf, err := readAt(mem, entryAddr, entrySize)
		if err != nil {
			continue
		}
		var dd DebugDirectory
		if err := binary.Read(bytes.NewReader(buf), byteOrder, &dd); err != nil {
			continue
		}
		if dd.Type != ImageDebugTypeCodeView || dd.AddressOfRawData == 0 {
			continue
		}

		cvAddr := base.Add(int64(dd.AddressOfRawData))
		hdrSize := binary.Size(CvInfoPDB70Header{})
		hdrBuf, err := readAt(mem, cvAddr, hdrSize)
		if err != nil {
			continue
		}
		var cv CvInfoPDB70Header
		if err := binary.Read(bytes.NewReader(hdrBuf), byteOrder, &cv); err != nil {
			continue
		}
		if cv.CvSignature != CVSignatureRSDS {
			continue
		}

		nameMax := int(dd.SizeOfData) - hdrSize
		if nameMax <= 0 || nameMax > 1024 {
			nameMax = 260
		}
		name, err := readCString(mem, cvAddr.Add(int64(hdrSize)), nameMax)
		if err != nil {
			return nil, err
		}

		return &DebugInfo{Guid: cv.Signature, Age: cv.Age, Name: name}, nil
	}

	return nil, xerr.New(xerr.NotFound, stage, "no CodeView RSDS debug entry")
}

func readCString(mem memio.MemoryView, addr address.Address, max int) (string, error) {
	buf := make([]byte, max)
	n, err := mem.ReadAt(addr, buf)
	if err != nil && n == 0 {
		return "", xerr.Wrap(xerr.InvalidExeFile, stage, "reading string", err)
	}
	if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf[:n]), nil
}
