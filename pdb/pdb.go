// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdb

import (
	"fmt"
	"strings"

	"github.com/memflow/memflow-win32-go/xerr"
)

// The PDB info stream always lives at stream index 1.
const infoStreamIndex = 1

// File is an opened PDB: the parsed type stream plus the public-symbol
// index. Symbols are parsed lazily since offset extraction from a
// user-supplied PDB may never need them.
type File struct {
	msf  *msf
	tpi  *tpi
	syms *symbols
}

// Open parses data as an MSF 7.0 PDB and readies the type stream.
func Open(data []byte) (*File, error) {
	m, err := parseMSF(data)
	if err != nil {
		return nil, err
	}
	t, err := parseTPI(m.stream(tpiStreamIndex))
	if err != nil {
		return nil, err
	}
	return &File{msf: m, tpi: t}, nil
}

// FindStruct returns the named structure's field table, or false if the
// type stream has no definition for it.
func (f *File) FindStruct(name string) (*Struct, bool) {
	return f.tpi.findStruct(name)
}

// FindSymbol returns the RVA of the named public symbol, or false if the
// symbol stream has no entry for it.
func (f *File) FindSymbol(name string) (uint32, bool) {
	if f.syms == nil {
		syms, err := parseSymbols(f.msf)
		if err != nil {
			// Remember the failure as an empty index; repeated lookups on a
			// symbol-less PDB should not re-parse it every time.
			syms = &symbols{rvas: map[string]uint32{}}
		}
		f.syms = syms
	}
	return f.syms.find(name)
}

// GuidString renders the PDB's own identity the way the Microsoft symbol
// server keys it: the info-stream GUID as uppercase hex with no separators,
// followed by the age in uppercase hex. It must match the CodeView identity
// of the image the PDB was built for.
func (f *File) GuidString() (string, error) {
	info := f.msf.stream(infoStreamIndex)
	if len(info) < 28 {
		return "", xerr.New(xerr.Offset, stage, "missing or truncated PDB info stream")
	}
	age := byteOrder.Uint32(info[8:12])

	var guid [16]byte
	copy(guid[:], info[12:28])
	return fmt.Sprintf("%s%X", GuidHex(guid), age), nil
}

// GuidHex renders raw on-disk GUID bytes in registry order -- the first
// three fields are little-endian on disk and must be byte-swapped before
// hex rendering -- uppercase, no separators.
func GuidHex(raw [16]byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%02X%02X%02X%02X", raw[3], raw[2], raw[1], raw[0])
	fmt.Fprintf(&b, "%02X%02X", raw[5], raw[4])
	fmt.Fprintf(&b, "%02X%02X", raw[7], raw[6])
	for _, v := range raw[8:] {
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}
