// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pdbtest assembles small but structurally complete PDB (MSF 7.0)
// images in memory for tests: a type stream with real LF_STRUCTURE /
// LF_FIELDLIST / LF_BITFIELD records, a DBI stream with a debug header,
// S_PUB32 public symbols, and section headers to rebase them against.
package pdbtest

import (
	"bytes"
	"encoding/binary"
)

// Field describes one struct member. A non-nil BitPos makes the member a
// bitfield at that bit position within its storage unit.
type Field struct {
	Name   string
	Offset uint32
	BitPos *uint8
}

// Struct describes one named structure for the type stream.
type Struct struct {
	Name   string
	Fields []Field
}

// Symbol describes one S_PUB32 public symbol as a section:offset pair.
type Symbol struct {
	Name    string
	Section uint16
	Offset  uint32
}

// Image collects everything a synthetic PDB carries.
type Image struct {
	Signature [16]byte
	Age       uint32
	Structs   []Struct
	Symbols   []Symbol
	// SectionVAs lists the VirtualAddress of each image section, 1-based
	// from the symbols' point of view.
	SectionVAs []uint32
}

const blockSize = 0x200

var msfMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// Build assembles the MSF container.
func Build(img Image) []byte {
	streams := [][]byte{
		nil,                 // 0: old stream directory
		buildInfo(img),      // 1: PDB info
		buildTPI(img),       // 2: TPI
		buildDBI(),          // 3: DBI
		buildSymbols(img),   // 4: symbol records (named by the DBI header)
		buildSections(img),  // 5: section headers (named by the DBI header)
	}
	return assembleMSF(streams)
}

func le(v interface{}) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, v)
	return b.Bytes()
}

func buildInfo(img Image) []byte {
	var b bytes.Buffer
	b.Write(le(uint32(20000404))) // version (VC70)
	b.Write(le(uint32(0)))        // signature (timestamp)
	b.Write(le(img.Age))
	b.Write(img.Signature[:])
	return b.Bytes()
}

// Type record leaf kinds, mirroring what the parser consumes.
const (
	lfFieldList = 0x1203
	lfBitfield  = 0x1205
	lfStructure = 0x1505
	lfMember    = 0x150d
)

// typeIndexBegin is where user-defined type indices start in every PDB.
const typeIndexBegin = 0x1000

// record frames a type record: u16 length (excluding itself), body padded
// to 4-byte alignment with LF_PAD bytes.
func record(body []byte) []byte {
	for (len(body)+2)%4 != 0 {
		body = append(body, byte(0xf0|(4-(len(body)+2)%4)))
	}
	var b bytes.Buffer
	b.Write(le(uint16(len(body))))
	b.Write(body)
	return b.Bytes()
}

func buildTPI(img Image) []byte {
	var records []byte
	next := uint32(typeIndexBegin)

	for _, s := range img.Structs {
		// Bitfield members need an LF_BITFIELD record to point at.
		bitfieldIndex := map[int]uint32{}
		for i, f := range s.Fields {
			if f.BitPos == nil {
				continue
			}
			var body bytes.Buffer
			body.Write(le(uint16(lfBitfield)))
			body.Write(le(uint32(0x75))) // underlying type: uint32
			body.WriteByte(1)            // length in bits
			body.WriteByte(*f.BitPos)    // position
			records = append(records, record(body.Bytes())...)
			bitfieldIndex[i] = next
			next++
		}

		var fields bytes.Buffer
		fields.Write(le(uint16(lfFieldList)))
		for i, f := range s.Fields {
			memberType := uint32(0x75)
			if idx, ok := bitfieldIndex[i]; ok {
				memberType = idx
			}
			var m bytes.Buffer
			m.Write(le(uint16(lfMember)))
			m.Write(le(uint16(0))) // attributes
			m.Write(le(memberType))
			m.Write(le(uint16(f.Offset))) // numeric leaf, direct value
			m.WriteString(f.Name)
			m.WriteByte(0)
			for m.Len()%4 != 0 {
				m.WriteByte(byte(0xf0 | (4 - m.Len()%4)))
			}
			fields.Write(m.Bytes())
		}
		records = append(records, record(fields.Bytes())...)
		fieldListIndex := next
		next++

		var st bytes.Buffer
		st.Write(le(uint16(lfStructure)))
		st.Write(le(uint16(len(s.Fields)))) // member count
		st.Write(le(uint16(0)))             // property
		st.Write(le(fieldListIndex))
		st.Write(le(uint32(0)))     // derived
		st.Write(le(uint32(0)))     // vshape
		st.Write(le(uint16(0x100))) // numeric size
		st.WriteString(s.Name)
		st.WriteByte(0)
		records = append(records, record(st.Bytes())...)
		next++
	}

	var b bytes.Buffer
	b.Write(le(uint32(20040203))) // version (V80)
	b.Write(le(uint32(56)))       // header size
	b.Write(le(uint32(typeIndexBegin)))
	b.Write(le(next)) // index end
	b.Write(le(uint32(len(records))))
	b.Write(make([]byte, 56-b.Len()))
	b.Write(records)
	return b.Bytes()
}

func buildDBI() []byte {
	var b bytes.Buffer
	b.Write(le(uint32(0xffffffff))) // new-format signature
	b.Write(le(uint32(19990903)))   // version
	b.Write(le(uint32(1)))          // age
	b.Write(le(uint16(0xffff)))     // global stream
	b.Write(le(uint16(0)))          // build number
	b.Write(le(uint16(0xffff)))     // public stream
	b.Write(le(uint16(0)))          // pdb dll version
	b.Write(le(uint16(4)))          // symbol record stream
	b.Write(le(uint16(0)))          // pdb dll rbld
	b.Write(le(uint32(0)))          // mod info size
	b.Write(le(uint32(0)))          // section contribution size
	b.Write(le(uint32(0)))          // section map size
	b.Write(le(uint32(0)))          // source info size
	b.Write(le(uint32(0)))          // type server size
	b.Write(le(uint32(0)))          // MFC type server
	b.Write(le(uint32(22)))         // optional debug header size
	b.Write(le(uint32(0)))          // EC substream size
	b.Write(le(uint16(0)))          // flags
	b.Write(le(uint16(0x8664)))     // machine
	b.Write(le(uint32(0)))          // padding

	// Optional debug header: 11 stream-index slots; slot 5 names the
	// section-header stream.
	for i := 0; i < 11; i++ {
		if i == 5 {
			b.Write(le(uint16(5)))
		} else {
			b.Write(le(uint16(0xffff)))
		}
	}
	return b.Bytes()
}

const sPub32 = 0x110e

func buildSymbols(img Image) []byte {
	var b bytes.Buffer
	for _, s := range img.Symbols {
		var body bytes.Buffer
		body.Write(le(uint16(sPub32)))
		body.Write(le(uint32(2))) // flags: function
		body.Write(le(s.Offset))
		body.Write(le(s.Section))
		body.WriteString(s.Name)
		body.WriteByte(0)
		for (body.Len()+2)%4 != 0 {
			body.WriteByte(0)
		}
		b.Write(le(uint16(body.Len())))
		b.Write(body.Bytes())
	}
	return b.Bytes()
}

func buildSections(img Image) []byte {
	var b bytes.Buffer
	for _, va := range img.SectionVAs {
		section := make([]byte, 40)
		copy(section, ".text")
		binary.LittleEndian.PutUint32(section[12:16], va)
		b.Write(section)
	}
	return b.Bytes()
}

func assembleMSF(streams [][]byte) []byte {
	// Directory layout: stream count, per-stream sizes, then per-stream
	// block lists. Block allocation: 0 superblock, 1 free block map,
	// 2 block map, then the directory, then stream data.
	blocksFor := func(n int) int { return (n + blockSize - 1) / blockSize }

	totalStreamBlocks := 0
	for _, s := range streams {
		totalStreamBlocks += blocksFor(len(s))
	}
	dirBytes := 4 + 4*len(streams) + 4*totalStreamBlocks
	dirBlocks := blocksFor(dirBytes)

	firstStreamBlock := 3 + dirBlocks

	var dir bytes.Buffer
	dir.Write(le(uint32(len(streams))))
	for _, s := range streams {
		dir.Write(le(uint32(len(s))))
	}
	next := uint32(firstStreamBlock)
	for _, s := range streams {
		for i := 0; i < blocksFor(len(s)); i++ {
			dir.Write(le(next))
			next++
		}
	}

	numBlocks := int(next)
	out := make([]byte, numBlocks*blockSize)

	// Superblock.
	copy(out, msfMagic)
	hdr := out[len(msfMagic):]
	binary.LittleEndian.PutUint32(hdr[0:4], blockSize)
	binary.LittleEndian.PutUint32(hdr[4:8], 1) // free block map
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(numBlocks))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(dirBytes))
	binary.LittleEndian.PutUint32(hdr[20:24], 2) // block map address

	// Block map: the directory's block indices.
	for i := 0; i < dirBlocks; i++ {
		binary.LittleEndian.PutUint32(out[2*blockSize+i*4:], uint32(3+i))
	}

	copy(out[3*blockSize:], dir.Bytes())

	off := firstStreamBlock * blockSize
	for _, s := range streams {
		copy(out[off:], s)
		off += blocksFor(len(s)) * blockSize
	}
	return out
}
