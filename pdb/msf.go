// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pdb implements the subset of Microsoft Program Database parsing
// the offset resolver needs: opening the MSF 7.0 container, walking the
// TPI type stream to pull named struct-field offsets (including bitfield
// positions), and walking the DBI public-symbol stream to resolve symbol
// RVAs. Anything a kernel PDB does not exercise (incremental hash streams,
// module symbols, source line info) is deliberately left unparsed.
package pdb

import (
	"bytes"
	"encoding/binary"

	"github.com/memflow/memflow-win32-go/xerr"
)

const stage = "PdbExtractor"

var byteOrder = binary.LittleEndian

// msfMagic is the file signature every MSF 7.0 ("big MSF") container
// starts with; PDB 2.0 files carry a different one and are rejected.
var msfMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// nilStreamSize marks a stream slot that exists in the directory but has
// no content.
const nilStreamSize = 0xffffffff

// msf is a fully materialized MSF container: every stream reassembled from
// its scattered blocks into one contiguous byte slice.
type msf struct {
	blockSize uint32
	streams   [][]byte
}

// parseMSF validates the superblock and reassembles the stream directory
// and every stream it describes.
func parseMSF(data []byte) (*msf, error) {
	if len(data) < len(msfMagic)+24 {
		return nil, xerr.New(xerr.Offset, stage, "file too small for an MSF superblock")
	}
	if !bytes.Equal(data[:len(msfMagic)], msfMagic) {
		return nil, xerr.New(xerr.Offset, stage, "not an MSF 7.0 file (bad magic)")
	}

	hdr := data[len(msfMagic):]
	blockSize := byteOrder.Uint32(hdr[0:4])
	numBlocks := byteOrder.Uint32(hdr[8:12])
	numDirBytes := byteOrder.Uint32(hdr[12:16])
	blockMapAddr := byteOrder.Uint32(hdr[20:24])

	switch blockSize {
	case 0x200, 0x400, 0x800, 0x1000:
	default:
		return nil, xerr.New(xerr.Offset, stage, "unsupported MSF block size")
	}
	if uint64(numBlocks)*uint64(blockSize) > uint64(len(data)) {
		return nil, xerr.New(xerr.Offset, stage, "MSF block count exceeds file size")
	}

	block := func(index uint32) ([]byte, error) {
		start := uint64(index) * uint64(blockSize)
		end := start + uint64(blockSize)
		if index >= numBlocks || end > uint64(len(data)) {
			return nil, xerr.New(xerr.Offset, stage, "MSF block index out of range")
		}
		return data[start:end], nil
	}

	// The block map block lists the directory's blocks; the directory in
	// turn lists every stream's size and blocks.
	blockMap, err := block(blockMapAddr)
	if err != nil {
		return nil, err
	}
	dirBlocks := (numDirBytes + blockSize - 1) / blockSize
	if uint64(dirBlocks)*4 > uint64(len(blockMap)) {
		return nil, xerr.New(xerr.Offset, stage, "MSF directory too large for its block map")
	}

	dir := make([]byte, 0, numDirBytes)
	for i := uint32(0); i < dirBlocks; i++ {
		b, err := block(byteOrder.Uint32(blockMap[i*4 : i*4+4]))
		if err != nil {
			return nil, err
		}
		dir = append(dir, b...)
	}
	dir = dir[:numDirBytes]

	r := &leReader{buf: dir}
	numStreams := r.uint32()
	if r.err || numStreams > 0xffff {
		return nil, xerr.New(xerr.Offset, stage, "implausible MSF stream count")
	}

	sizes := make([]uint32, numStreams)
	for i := range sizes {
		sizes[i] = r.uint32()
	}

	streams := make([][]byte, numStreams)
	for i, size := range sizes {
		if size == nilStreamSize || size == 0 {
			continue
		}
		n := (size + blockSize - 1) / blockSize
		stream := make([]byte, 0, size)
		for j := uint32(0); j < n; j++ {
			b, err := block(r.uint32())
			if r.err {
				return nil, xerr.New(xerr.Offset, stage, "truncated MSF stream directory")
			}
			if err != nil {
				return nil, err
			}
			stream = append(stream, b...)
		}
		streams[i] = stream[:size]
	}
	if r.err {
		return nil, xerr.New(xerr.Offset, stage, "truncated MSF stream directory")
	}

	return &msf{blockSize: blockSize, streams: streams}, nil
}

// stream returns the reassembled stream at index, or nil if the slot is
// absent or empty.
func (m *msf) stream(index int) []byte {
	if index < 0 || index >= len(m.streams) {
		return nil
	}
	return m.streams[index]
}

// leReader is a little cursor over a byte slice that records overruns
// instead of panicking, so parse loops can check err once at the end.
type leReader struct {
	buf []byte
	off int
	err bool
}

func (r *leReader) bytes(n int) []byte {
	if r.err || r.off+n > len(r.buf) {
		r.err = true
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *leReader) uint8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *leReader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return byteOrder.Uint16(b)
}

func (r *leReader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return byteOrder.Uint32(b)
}

func (r *leReader) cstring() string {
	if r.err {
		return ""
	}
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		r.err = true
		return ""
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s
}
