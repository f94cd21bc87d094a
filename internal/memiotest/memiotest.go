// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memiotest provides small, self-contained implementations of the
// memio collaborator interfaces for use in tests only.
package memiotest

import (
	"fmt"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/memio"
)

// FlatPhysical is a PhysicalMemory backed by a single in-memory byte slice,
// addressed from 0.
type FlatPhysical struct {
	Data []byte
}

// NewFlatPhysical allocates a FlatPhysical of size bytes.
func NewFlatPhysical(size int) *FlatPhysical {
	return &FlatPhysical{Data: make([]byte, size)}
}

// ReadPhysicalAt implements memio.PhysicalMemory.
func (f *FlatPhysical) ReadPhysicalAt(addr address.Address, buf []byte) (int, error) {
	start := addr.Uint64()
	if start >= uint64(len(f.Data)) {
		return 0, fmt.Errorf("memiotest: address %v out of range", addr)
	}
	n := copy(buf, f.Data[start:])
	if n < len(buf) {
		return n, fmt.Errorf("memiotest: short read at %v", addr)
	}
	return n, nil
}

// IdentityTranslate is a VirtualTranslate that maps every virtual address
// to the identical physical address, ignoring dtb. It is sufficient for
// exercising NtosLocator and PeHelper against hand-built images without
// modeling a real page table.
type IdentityTranslate struct {
	// Ranges lists the mapped virtual windows VirtualRanges reports.
	Ranges []memio.Range
}

// Translate implements memio.VirtualTranslate.
func (IdentityTranslate) Translate(_ address.Address, va address.Address) (address.Address, error) {
	return va, nil
}

// VirtualRanges implements memio.VirtualTranslate.
func (t IdentityTranslate) VirtualRanges(_ address.Address, low, high address.Address) ([]memio.Range, error) {
	var out []memio.Range
	for _, r := range t.Ranges {
		if r.Base.Uint64() >= low.Uint64() && r.Base.Uint64() < high.Uint64() {
			out = append(out, r)
		}
	}
	return out, nil
}
