// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"unicode/utf8"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/pe"
	"github.com/memflow/memflow-win32-go/xerr"
)

const identStage = "KernelIdentifier"

// FindGuid extracts the kernel image's PDB identity from its CodeView
// debug entry. Only PDB 7.0 (RSDS) entries are accepted; pe.DebugCodeView
// already rejects everything else.
func FindGuid(mem memio.MemoryView, kernelBase address.Address) (Guid, error) {
	info, err := pe.DebugCodeView(mem, kernelBase)
	if err != nil {
		return Guid{}, err
	}
	if !utf8.ValidString(info.Name) {
		return Guid{}, xerr.New(xerr.Encoding, identStage, "pdb file name is not valid utf-8")
	}
	return NewGuid(info.Name, guidDisplayBytes(info.Guid), info.Age), nil
}

// guidDisplayBytes reorders a CodeView record's on-disk GUID bytes into
// registry (display) order: the first three fields are stored
// little-endian and must be byte-swapped so the hex rendering matches what
// the Microsoft symbol server expects.
func guidDisplayBytes(raw [16]byte) [16]byte {
	return [16]byte{
		raw[3], raw[2], raw[1], raw[0],
		raw[5], raw[4],
		raw[7], raw[6],
		raw[8], raw[9], raw[10], raw[11], raw[12], raw[13], raw[14], raw[15],
	}
}
