// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdb

import "github.com/memflow/memflow-win32-go/xerr"

// The TPI type stream always lives at stream index 2 in a PDB.
const tpiStreamIndex = 2

// Type record kinds this parser understands. Kernel PDBs only exercise
// plain C structures, so the C++-only leaves (methods, base classes with
// virtual bases, ...) are treated as parse stoppers rather than decoded.
const (
	lfFieldList = 0x1203
	lfIndex     = 0x1404
	lfBClass    = 0x1400
	lfVFuncTab  = 0x1409
	lfBitfield  = 0x1205
	lfEnumerate = 0x1502
	lfClass     = 0x1504
	lfStructure = 0x1505
	lfUnion     = 0x1506
	lfMember    = 0x150d
	lfStMember  = 0x150e
	lfNestType  = 0x1510
)

// propFwdRef is the forward-reference bit of a class/structure property
// word; a fwdref record names the type but carries no field list.
const propFwdRef = 0x0080

// tpi holds every raw type record of the TPI stream, indexed by type index.
type tpi struct {
	indexBegin uint32
	records    [][]byte // records[i] covers type index indexBegin+i, kind included
}

func parseTPI(stream []byte) (*tpi, error) {
	r := &leReader{buf: stream}
	r.uint32() // version
	headerSize := r.uint32()
	indexBegin := r.uint32()
	indexEnd := r.uint32()
	r.uint32() // type record bytes
	if r.err || headerSize < 20 || uint64(headerSize) > uint64(len(stream)) || indexEnd < indexBegin {
		return nil, xerr.New(xerr.Offset, stage, "malformed TPI stream header")
	}

	t := &tpi{indexBegin: indexBegin}
	body := &leReader{buf: stream[headerSize:]}
	for uint32(len(t.records)) < indexEnd-indexBegin {
		recLen := body.uint16()
		rec := body.bytes(int(recLen))
		if body.err {
			return nil, xerr.New(xerr.Offset, stage, "truncated TPI type record")
		}
		t.records = append(t.records, rec)
	}
	return t, nil
}

// record returns the raw record for a type index, or nil for primitive
// indices (< indexBegin) and out-of-range ones.
func (t *tpi) record(index uint32) []byte {
	if index < t.indexBegin || index >= t.indexBegin+uint32(len(t.records)) {
		return nil
	}
	return t.records[index-t.indexBegin]
}

// Field is one named member of a Struct: its byte offset, plus, when the
// member is a bitfield, its bit position within the storage unit that
// starts at that offset.
type Field struct {
	Name      string
	Offset    uint32
	BitOffset uint8
}

// Struct is a named aggregate pulled from the type stream.
type Struct struct {
	Name   string
	fields []Field
}

// FindField returns the field with the given name.
func (s *Struct) FindField(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// findStruct walks every record looking for a non-forward-reference
// structure (or union) definition with the given name and decodes its
// field list.
func (t *tpi) findStruct(name string) (*Struct, bool) {
	for _, rec := range t.records {
		r := &leReader{buf: rec}
		kind := r.uint16()

		var fieldList uint32
		switch kind {
		case lfStructure, lfClass:
			r.uint16() // member count
			prop := r.uint16()
			fieldList = r.uint32()
			r.uint32() // derived
			r.uint32() // vshape
			readNumeric(r)
			if prop&propFwdRef != 0 {
				continue
			}
		case lfUnion:
			r.uint16() // member count
			prop := r.uint16()
			fieldList = r.uint32()
			readNumeric(r)
			if prop&propFwdRef != 0 {
				continue
			}
		default:
			continue
		}

		if r.cstring() != name || r.err {
			continue
		}

		s := &Struct{Name: name}
		t.appendFields(s, fieldList)
		return s, true
	}
	return nil, false
}

// appendFields decodes the LF_FIELDLIST record at index into s, following
// LF_INDEX continuation records (large kernel structures overflow a single
// field list).
func (t *tpi) appendFields(s *Struct, index uint32) {
	rec := t.record(index)
	if rec == nil {
		return
	}
	r := &leReader{buf: rec}
	if r.uint16() != lfFieldList {
		return
	}

	for !r.err && r.off < len(r.buf) {
		kind := r.uint16()
		switch kind {
		case lfMember:
			r.uint16() // attributes
			fieldType := r.uint32()
			offset := readNumeric(r)
			name := r.cstring()
			if r.err {
				return
			}
			s.fields = append(s.fields, Field{
				Name:      name,
				Offset:    uint32(offset),
				BitOffset: t.bitPosition(fieldType),
			})
		case lfStMember:
			r.uint16()
			r.uint32()
			r.cstring()
		case lfNestType:
			r.uint16()
			r.uint32()
			r.cstring()
		case lfBClass:
			r.uint16()
			r.uint32()
			readNumeric(r)
		case lfVFuncTab:
			r.uint16()
			r.uint32()
		case lfEnumerate:
			r.uint16()
			readNumeric(r)
			r.cstring()
		case lfIndex:
			r.uint16()
			next := r.uint32()
			if !r.err {
				t.appendFields(s, next)
			}
			return
		default:
			// A leaf this parser doesn't know; without its length the rest
			// of the list can't be walked.
			return
		}
		r.skipPadding()
	}
}

// bitPosition resolves a member's bit offset: if its type is an
// LF_BITFIELD record, the position byte is the bit offset within the
// storage unit, otherwise the member occupies whole bytes and the bit
// offset is zero.
func (t *tpi) bitPosition(index uint32) uint8 {
	rec := t.record(index)
	if rec == nil {
		return 0
	}
	r := &leReader{buf: rec}
	if r.uint16() != lfBitfield {
		return 0
	}
	r.uint32() // underlying type
	r.uint8()  // length in bits
	pos := r.uint8()
	if r.err {
		return 0
	}
	return pos
}

// skipPadding consumes the LF_PAD alignment bytes (0xf0..0xff) that follow
// a field-list member.
func (r *leReader) skipPadding() {
	for !r.err && r.off < len(r.buf) && r.buf[r.off] >= 0xf0 {
		r.off++
	}
}

// readNumeric decodes a CodeView "numeric leaf": a u16 that either is the
// value itself (< 0x8000) or selects a wider immediate that follows.
func readNumeric(r *leReader) uint64 {
	v := r.uint16()
	if v < 0x8000 {
		return uint64(v)
	}
	switch v {
	case 0x8000: // LF_CHAR
		return uint64(r.uint8())
	case 0x8001, 0x8002: // LF_SHORT, LF_USHORT
		return uint64(r.uint16())
	case 0x8003, 0x8004: // LF_LONG, LF_ULONG
		return uint64(r.uint32())
	case 0x8009, 0x800a: // LF_QUADWORD, LF_UQUADWORD
		lo := uint64(r.uint32())
		hi := uint64(r.uint32())
		return hi<<32 | lo
	default:
		r.err = true
		return 0
	}
}
