// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package petest assembles a minimal but well-formed PE32+ image in memory
// for exercising the kernel identification stages: a named export table, a
// CodeView RSDS debug entry, and caller-placed data bytes.
package petest

import (
	"bytes"
	"encoding/binary"

	"github.com/memflow/memflow-win32-go/pe"
)

// Export is one named export and the RVA it resolves to.
type Export struct {
	Name string
	Rva  uint32
}

// Image describes the synthetic kernel image.
type Image struct {
	ModuleName  string
	SizeOfImage uint32
	Exports     []Export

	// PdbFileName/Signature/Age populate the RSDS debug entry; an empty
	// PdbFileName omits the debug directory.
	PdbFileName string
	Signature   [16]byte
	Age         uint32

	// Data holds raw bytes to place into the image at given RVAs (export
	// targets like NtBuildNumber's storage, RtlGetVersion's code bytes).
	Data map[uint32][]byte
}

const (
	lfanew    = 0x80
	dirBase   = 0x1000
	debugBase = 0x1800
	cvBase    = 0x1880
)

// Build lays the image out. The caller maps the result at its chosen base;
// all internal references are RVAs.
func Build(img Image) []byte {
	buf := make([]byte, 0x4000)

	put := func(off int, v interface{}) {
		var tmp bytes.Buffer
		if err := binary.Write(&tmp, binary.LittleEndian, v); err != nil {
			panic(err)
		}
		copy(buf[off:], tmp.Bytes())
	}

	put(0, pe.DosHeader{EMagic: pe.DosMagic, ELfanew: lfanew})
	put(lfanew, uint32(0x00004550))
	put(lfanew+4, pe.FileHeader{Machine: 0x8664, NumberOfSections: 1})

	opt := pe.OptionalHeader64{
		Magic:               0x20b,
		SizeOfImage:         img.SizeOfImage,
		NumberOfRvaAndSizes: 16,
	}
	opt.DataDirectory[pe.DirExport] = pe.DataDirectory{VirtualAddress: dirBase, Size: 0x200}
	if img.PdbFileName != "" {
		opt.DataDirectory[pe.DirDebug] = pe.DataDirectory{
			VirtualAddress: debugBase,
			Size:           uint32(binary.Size(pe.DebugDirectory{})),
		}
	}
	put(lfanew+4+binary.Size(pe.FileHeader{}), opt)

	// Export table: name-pointer, ordinal, and function arrays plus the
	// string pool, laid out after the directory itself.
	namesBase := dirBase + 0x40
	ordsBase := namesBase + 4*len(img.Exports)
	funcsBase := ordsBase + 2*len(img.Exports)
	strBase := funcsBase + 4*len(img.Exports)

	strOff := strBase
	moduleNameOff := strOff
	copy(buf[strOff:], img.ModuleName)
	strOff += len(img.ModuleName) + 1

	for i, e := range img.Exports {
		put(namesBase+4*i, uint32(strOff))
		copy(buf[strOff:], e.Name)
		strOff += len(e.Name) + 1
		put(ordsBase+2*i, uint16(i))
		put(funcsBase+4*i, e.Rva)
	}

	put(dirBase, pe.ExportDirectory{
		Name:                  uint32(moduleNameOff),
		NumberOfFunctions:     uint32(len(img.Exports)),
		NumberOfNames:         uint32(len(img.Exports)),
		AddressOfFunctions:    uint32(funcsBase),
		AddressOfNames:        uint32(namesBase),
		AddressOfNameOrdinals: uint32(ordsBase),
	})

	if img.PdbFileName != "" {
		put(debugBase, pe.DebugDirectory{
			Type:             pe.ImageDebugTypeCodeView,
			AddressOfRawData: cvBase,
			SizeOfData:       uint32(binary.Size(pe.CvInfoPDB70Header{}) + len(img.PdbFileName) + 1),
		})
		put(cvBase, pe.CvInfoPDB70Header{
			CvSignature: pe.CVSignatureRSDS,
			Signature:   img.Signature,
			Age:         img.Age,
		})
		copy(buf[cvBase+binary.Size(pe.CvInfoPDB70Header{}):], img.PdbFileName)
	}

	for rva, data := range img.Data {
		copy(buf[rva:], data)
	}
	return buf
}
