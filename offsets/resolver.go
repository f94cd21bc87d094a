// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package offsets

import (
	"github.com/memflow/memflow-win32-go/pdb"
	"github.com/memflow/memflow-win32-go/xerr"
)

const stage = "OffsetResolver"

// FromPdb extracts the full offset table from a PDB blob, applying the
// renamed/inlined-field fallbacks a decade of kernel revisions requires:
//
//   - _EPROCESS wow64: WoW64Process on Windows 10, Wow64Process before it;
//     absent entirely on 32-bit-only builds (0).
//   - _MMVAD_SHORT node: VadNode on current builds; older builds inlined
//     the tree node, LeftChild being its first field.
//   - MmPhysicalMemoryBlock: leading-underscore variant on some builds.
//   - _TEB32: only present on 64-bit kernels; without it TebPebX86 is 0.
//   - The remaining _MMVAD_SHORT fields and _MMVAD_FLAGS::Protection are 0
//     when absent.
//
// Every other field is required; a miss fails with the specific field name.
func FromPdb(data []byte) (*OffsetTable, error) {
	f, err := pdb.Open(data)
	if err != nil {
		return nil, err
	}
	return fromFile(f)
}

func fromFile(f *pdb.File) (*OffsetTable, error) {
	list, err := requireStruct(f, "_LIST_ENTRY")
	if err != nil {
		return nil, err
	}
	kproc, err := requireStruct(f, "_KPROCESS")
	if err != nil {
		return nil, err
	}
	eproc, err := requireStruct(f, "_EPROCESS")
	if err != nil {
		return nil, err
	}
	ethread, err := requireStruct(f, "_ETHREAD")
	if err != nil {
		return nil, err
	}
	kthread, err := requireStruct(f, "_KTHREAD")
	if err != nil {
		return nil, err
	}
	teb, err := requireStruct(f, "_TEB")
	if err != nil {
		return nil, err
	}
	mmVad, err := requireStruct(f, "_MMVAD_SHORT")
	if err != nil {
		return nil, err
	}
	mmVadFlags, err := requireStruct(f, "_MMVAD_FLAGS")
	if err != nil {
		return nil, err
	}

	var t OffsetTable

	if rva, ok := f.FindSymbol("MmPhysicalMemoryBlock"); ok {
		t.PhysMemBlock = rva
	} else if rva, ok := f.FindSymbol("_MmPhysicalMemoryBlock"); ok {
		t.PhysMemBlock = rva
	}

	if t.ListBlink, err = requireField(list, "_LIST_ENTRY", "Blink"); err != nil {
		return nil, err
	}
	if t.EprocLink, err = requireField(eproc, "_EPROCESS", "ActiveProcessLinks"); err != nil {
		return nil, err
	}
	if t.KprocDtb, err = requireField(kproc, "_KPROCESS", "DirectoryTableBase"); err != nil {
		return nil, err
	}
	if t.EprocPid, err = requireField(eproc, "_EPROCESS", "UniqueProcessId"); err != nil {
		return nil, err
	}
	if t.EprocName, err = requireField(eproc, "_EPROCESS", "ImageFileName"); err != nil {
		return nil, err
	}
	if t.EprocPeb, err = requireField(eproc, "_EPROCESS", "Peb"); err != nil {
		return nil, err
	}
	if t.EprocSectionBase, err = requireField(eproc, "_EPROCESS", "SectionBaseAddress"); err != nil {
		return nil, err
	}
	if t.EprocExitStatus, err = requireField(eproc, "_EPROCESS", "ExitStatus"); err != nil {
		return nil, err
	}
	if t.EprocThreadList, err = requireField(eproc, "_EPROCESS", "ThreadListHead"); err != nil {
		return nil, err
	}
	if t.EprocVadRoot, err = requireField(eproc, "_EPROCESS", "VadRoot"); err != nil {
		return nil, err
	}

	// Windows 10 spells it WoW64Process, older builds Wow64Process; 32-bit
	// builds have neither.
	if fld, ok := eproc.FindField("WoW64Process"); ok {
		t.EprocWow64 = fld.Offset
	} else if fld, ok := eproc.FindField("Wow64Process"); ok {
		t.EprocWow64 = fld.Offset
	}

	if t.KthreadTeb, err = requireField(kthread, "_KTHREAD", "Teb"); err != nil {
		return nil, err
	}
	if t.EthreadListEntry, err = requireField(ethread, "_ETHREAD", "ThreadListEntry"); err != nil {
		return nil, err
	}
	if t.TebPeb, err = requireField(teb, "_TEB", "ProcessEnvironmentBlock"); err != nil {
		return nil, err
	}

	// _TEB32 only exists on 64-bit kernels; its absence degrades the
	// offset to 0 rather than failing.
	if teb32, ok := f.FindStruct("_TEB32"); ok {
		if t.TebPebX86, err = requireField(teb32, "_TEB32", "ProcessEnvironmentBlock"); err != nil {
			return nil, err
		}
	}

	if fld, ok := mmVad.FindField("VadNode"); ok {
		t.MmVad.VadNode = fld.Offset
	} else if fld, ok := mmVad.FindField("LeftChild"); ok {
		t.MmVad.VadNode = fld.Offset
	}
	if fld, ok := mmVad.FindField("StartingVpn"); ok {
		t.MmVad.StartingVpn = fld.Offset
	}
	if fld, ok := mmVad.FindField("EndingVpn"); ok {
		t.MmVad.EndingVpn = fld.Offset
	}
	if fld, ok := mmVad.FindField("StartingVpnHigh"); ok {
		t.MmVad.StartingVpnHigh = fld.Offset
	}
	if fld, ok := mmVad.FindField("EndingVpnHigh"); ok {
		t.MmVad.EndingVpnHigh = fld.Offset
	}
	if fld, ok := mmVad.FindField("u"); ok {
		t.MmVad.U = fld.Offset
	}
	if fld, ok := mmVadFlags.FindField("Protection"); ok {
		t.MmVad.ProtectionBit = uint32(fld.BitOffset)
	}

	return &t, nil
}

func requireStruct(f *pdb.File, name string) (*pdb.Struct, error) {
	s, ok := f.FindStruct(name)
	if !ok {
		return nil, xerr.New(xerr.NotFound, stage, name+" not found")
	}
	return s, nil
}

func requireField(s *pdb.Struct, structName, fieldName string) (uint32, error) {
	fld, ok := s.FindField(fieldName)
	if !ok {
		return 0, xerr.New(xerr.Offset, stage, structName+"::"+fieldName+" not found")
	}
	return fld.Offset, nil
}
