// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"encoding/binary"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/pe"
	"github.com/memflow/memflow-win32-go/xerr"
)

// KUSER_SHARED_DATA is mapped read-only into every address space at a
// fixed virtual address; the NT major/minor version fields inside it have
// existed since NT 4.0.
const (
	kuserSharedData      = 0x7ffe0000
	kuserMajorVersionOff = 0x026c
	kuserMinorVersionOff = 0x0270
)

// FindWinver extracts the kernel's (major, minor, build) triple. Three
// sources are merged: the NtBuildNumber export (required; zero means
// failure), KUSER_SHARED_DATA (best effort), and, when that yields no
// major version and RtlGetVersion is exported, a byte-pattern scan over
// RtlGetVersion's first 0xF0 bytes for the x64 mov-immediate instructions
// that store the version constants. The scan does not check the target
// architecture.
func FindWinver(mem memio.MemoryView, kernelBase address.Address) (Version, error) {
	ntBuildRva, err := pe.Export(mem, kernelBase, "NtBuildNumber")
	if err != nil {
		return Version{}, err
	}
	rtlGetVersionRva, rtlErr := pe.Export(mem, kernelBase, "RtlGetVersion")

	buildNumber, ok := readU32(mem, kernelBase.Add(int64(ntBuildRva)))
	if !ok || buildNumber == 0 {
		return Version{}, xerr.New(xerr.InvalidExeFile, identStage, "unable to fetch nt build number")
	}

	// Partial reads are acceptable here; zero just pushes us to the next
	// fallback.
	major, _ := readU32(mem, address.Address(kuserSharedData+kuserMajorVersionOff))
	minor, _ := readU32(mem, address.Address(kuserSharedData+kuserMinorVersionOff))

	if major == 0 && rtlErr == nil {
		var buf [0x100]byte
		mem.ReadAt(kernelBase.Add(int64(rtlGetVersionRva)), buf[:])

		major = 0
		minor = 0
		for i := 0; i < 0xf0; i++ {
			dword := binary.LittleEndian.Uint32(buf[i : i+4])

			// mov dword [rcx+4], imm32 -- the full version store.
			if major == 0 && minor == 0 && dword == 0x0441c748 {
				major = uint32(binary.LittleEndian.Uint16(buf[i+4 : i+6]))
				minor = uint32(buf[i+5] & 0xf)
			}

			// Shorter mov dword [rcx+4], imm8 encodings.
			if major == 0 && dword&0xfffff == 0x441c7 {
				major = uint32(buf[i+3])
			}

			// TODO: this arm is gated on minor == 0 but assigns major,
			// mirroring the 0x841c7 encoding's historical handling; verify
			// against a live 21H2+ kernel before changing it to minor.
			if minor == 0 && dword&0xfffff == 0x841c7 {
				major = uint32(buf[i+3])
			}
		}
	}

	return Version{Major: major, Minor: minor, Build: buildNumber}, nil
}

// readU32 reads a little-endian u32 at addr, tolerating nothing: any
// short read reports failure.
func readU32(mem memio.MemoryView, addr address.Address) (uint32, bool) {
	var buf [4]byte
	n, err := mem.ReadAt(addr, buf[:])
	if err != nil || n < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}
