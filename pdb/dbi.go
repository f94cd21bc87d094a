// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdb

import "github.com/memflow/memflow-win32-go/xerr"

// The DBI stream always lives at stream index 3 in a PDB.
const dbiStreamIndex = 3

// dbiHeaderSize is the fixed size of the new-format DBI header.
const dbiHeaderSize = 64

// sectionHeaderSize is the size of one IMAGE_SECTION_HEADER in the DBI's
// section-header debug stream.
const sectionHeaderSize = 40

// S_PUB32 is the public-symbol record kind carrying a section:offset
// address and a mangled name.
const sPub32 = 0x110e

// dbiSection is the slice of IMAGE_SECTION_HEADER a public symbol's
// section:offset pair is resolved against.
type dbiSection struct {
	virtualAddress uint32
}

// symbols maps public-symbol names to image RVAs.
type symbols struct {
	rvas map[string]uint32
}

// parseSymbols reads the DBI header to find the symbol-record stream and
// the section-header debug stream, then indexes every S_PUB32 record by
// name with its section:offset pair rebased to an RVA.
func parseSymbols(m *msf) (*symbols, error) {
	dbi := m.stream(dbiStreamIndex)
	if len(dbi) < dbiHeaderSize {
		return nil, xerr.New(xerr.Offset, stage, "missing or truncated DBI stream")
	}

	r := &leReader{buf: dbi}
	if r.uint32() != 0xffffffff { // new-format signature (-1)
		return nil, xerr.New(xerr.Offset, stage, "unsupported DBI stream format")
	}
	r.uint32() // version
	r.uint32() // age
	r.uint16() // global stream index
	r.uint16() // build number
	r.uint16() // public stream index
	r.uint16() // pdb dll version
	symRecordStream := r.uint16()
	r.uint16() // pdb dll rbld
	modInfoSize := r.uint32()
	secContribSize := r.uint32()
	sectionMapSize := r.uint32()
	sourceInfoSize := r.uint32()
	typeServerSize := r.uint32()
	r.uint32() // MFC type server index
	dbgHeaderSize := r.uint32()
	ecSubstreamSize := r.uint32()
	r.uint16() // flags
	r.uint16() // machine
	r.uint32() // padding
	if r.err {
		return nil, xerr.New(xerr.Offset, stage, "truncated DBI stream header")
	}

	// The optional debug header sits after every other DBI substream and
	// names the stream holding the image's section headers; without it a
	// section:offset pair cannot be turned into an RVA.
	dbgOff := uint64(dbiHeaderSize) + uint64(modInfoSize) + uint64(secContribSize) +
		uint64(sectionMapSize) + uint64(sourceInfoSize) + uint64(typeServerSize) +
		uint64(ecSubstreamSize)
	if dbgHeaderSize < 12 || dbgOff+uint64(dbgHeaderSize) > uint64(len(dbi)) {
		return nil, xerr.New(xerr.Offset, stage, "DBI stream has no debug header")
	}
	// The debug header is an array of stream indices; slot 5 is the
	// section-header stream.
	sectionStream := byteOrder.Uint16(dbi[dbgOff+10 : dbgOff+12])

	sections, err := parseSectionHeaders(m.stream(int(sectionStream)))
	if err != nil {
		return nil, err
	}

	syms := &symbols{rvas: make(map[string]uint32)}
	sr := &leReader{buf: m.stream(int(symRecordStream))}
	for !sr.err && sr.off+4 <= len(sr.buf) {
		recLen := sr.uint16()
		rec := sr.bytes(int(recLen))
		if sr.err || len(rec) < 2 {
			break
		}
		rr := &leReader{buf: rec}
		if rr.uint16() != sPub32 {
			continue
		}
		rr.uint32() // flags
		offset := rr.uint32()
		section := rr.uint16()
		name := rr.cstring()
		if rr.err || section == 0 || int(section) > len(sections) {
			continue
		}
		syms.rvas[name] = sections[section-1].virtualAddress + offset
	}
	return syms, nil
}

func parseSectionHeaders(stream []byte) ([]dbiSection, error) {
	if len(stream) == 0 {
		return nil, xerr.New(xerr.Offset, stage, "missing section-header stream")
	}
	var out []dbiSection
	for off := 0; off+sectionHeaderSize <= len(stream); off += sectionHeaderSize {
		out = append(out, dbiSection{
			// IMAGE_SECTION_HEADER: 8-byte name, VirtualSize, VirtualAddress.
			virtualAddress: byteOrder.Uint32(stream[off+12 : off+16]),
		})
	}
	return out, nil
}

func (s *symbols) find(name string) (uint32, bool) {
	rva, ok := s.rvas[name]
	return rva, ok
}
