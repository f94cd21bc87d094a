// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package offsets

import (
	"bytes"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/BurntSushi/toml"

	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/kernel"
)

func sampleFile() *File {
	return &File{
		Header: Header{
			PdbFileName:    "ntkrnlmp.pdb",
			PdbGuid:        "ECE191A20CFF4465AE46DF96C22638451",
			NtMajorVersion: 6,
			NtMinorVersion: 1,
			NtBuildNumber:  7601,
			Arch:           ArchTagX64,
		},
		Offsets: OffsetTable{
			ListBlink:        8,
			EprocLink:        392,
			KprocDtb:         40,
			EprocPid:         384,
			EprocName:        736,
			EprocPeb:         824,
			EprocSectionBase: 624,
			EprocExitStatus:  1092,
			EprocThreadList:  776,
			EprocWow64:       800,
			EprocVadRoot:     1096,
			KthreadTeb:       184,
			EthreadListEntry: 1056,
			TebPeb:           96,
			TebPebX86:        48,
			MmVad: MmVadOffsets{
				VadNode:       8,
				StartingVpn:   24,
				EndingVpn:     32,
				U:             40,
				ProtectionBit: 56,
			},
		},
	}
}

func TestOffsetFileRoundTrip(t *testing.T) {
	orig := sampleFile()
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(orig); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data := buf.Bytes()
	var back File
	if err := toml.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(*orig, back) {
		t.Errorf("round trip mismatch:\norig %+v\nback %+v", *orig, back)
	}
}

func TestSaveLoadFile(t *testing.T) {
	dir := t.TempDir()
	orig := sampleFile()
	path, err := SaveFile(dir, orig)
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if filepath.Base(path) != "6_1_7601_x64_ECE191A20CFF4465AE46DF96C22638451.toml" {
		t.Errorf("file name = %q, unexpected", filepath.Base(path))
	}

	back, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !reflect.DeepEqual(orig, back) {
		t.Errorf("save/load mismatch:\norig %+v\nback %+v", orig, back)
	}
}

func TestTagForIdent(t *testing.T) {
	if TagForIdent(arch.X86PAE) != ArchTagX86 {
		t.Error("PAE should share the x86 tag")
	}
	if TagForIdent(arch.X64) != ArchTagX64 {
		t.Error("x64 tag mismatch")
	}
	if TagForIdent(arch.AArch64) != ArchTagAArch64 {
		t.Error("aarch64 tag mismatch")
	}
}

func TestLookupBuiltin(t *testing.T) {
	guid := kernel.Guid{FileName: "ntkrnlmp.pdb", Guid: "ECE191A20CFF4465AE46DF96C22638451"}
	f, ok := LookupBuiltinGuid(guid)
	if !ok {
		t.Fatal("built-in table has no record for the win7 sp1 x64 kernel")
	}
	if f.Offsets.EprocPid != 0x180 {
		t.Errorf("EprocPid = %#x, want 0x180", f.Offsets.EprocPid)
	}
	if f.Offsets.KprocDtb != 0x28 {
		t.Errorf("KprocDtb = %#x, want 0x28", f.Offsets.KprocDtb)
	}

	if _, ok := LookupBuiltinGuid(kernel.Guid{FileName: "ntkrnlmp.pdb", Guid: "FFFF"}); ok {
		t.Error("lookup matched a guid the table lacks")
	}

	v, ok := LookupBuiltinVersion(ArchTagX64, kernel.Version{Major: 10, Minor: 0, Build: 19041})
	if !ok {
		t.Fatal("built-in table has no record for 10.0.19041 x64")
	}
	if v.Offsets.EprocWow64 == 0 {
		t.Error("19041 should carry a WoW64Process offset")
	}
}
