// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package offsets

import (
	"testing"

	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/kernel"
	"github.com/memflow/memflow-win32-go/xerr"
)

// fakeStore records loads and serves a fixed PDB blob.
type fakeStore struct {
	loads int
	data  []byte
	err   error
}

func (f *fakeStore) Load(kernel.Guid) ([]byte, error) {
	f.loads++
	return f.data, f.err
}

func TestBuilderOffsetFileWins(t *testing.T) {
	dir := t.TempDir()
	path, err := SaveFile(dir, sampleFile())
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	store := &fakeStore{}
	table, err := NewBuilder().
		OffsetFile(path).
		Guid(kernel.Guid{FileName: "ntkrnlmp.pdb", Guid: "ECE191A20CFF4465AE46DF96C22638451"}).
		SymbolStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if table.EprocPid != 384 {
		t.Errorf("EprocPid = %d, want 384", table.EprocPid)
	}
	if store.loads != 0 {
		t.Errorf("symbol store consulted %d times despite an offset file", store.loads)
	}
}

func TestBuilderBuiltinSkipsStore(t *testing.T) {
	store := &fakeStore{}
	table, err := NewBuilder().
		Guid(kernel.Guid{FileName: "ntkrnlmp.pdb", Guid: "ECE191A20CFF4465AE46DF96C22638451"}).
		SymbolStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if table.EprocPid != 0x180 {
		t.Errorf("EprocPid = %#x, want 0x180 from the built-in table", table.EprocPid)
	}
	if store.loads != 0 {
		t.Errorf("symbol store consulted %d times for a built-in guid", store.loads)
	}
}

func TestBuilderFetchesUnknownGuid(t *testing.T) {
	store := &fakeStore{data: buildPdb(kernelStructs())}
	table, err := NewBuilder().
		Guid(kernel.Guid{FileName: "ntkrnlmp.pdb", Guid: "0000000000000000000000000000000F1"}).
		SymbolStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if store.loads != 1 {
		t.Errorf("store loads = %d, want 1", store.loads)
	}
	if table.EprocLink != 0x448 {
		t.Errorf("EprocLink = %#x, want 0x448", table.EprocLink)
	}
}

func TestBuilderBuiltinByVersion(t *testing.T) {
	table, err := NewBuilder().
		Version(kernel.Version{Major: 10, Minor: 0, Build: 19041}).
		Arch(arch.X64).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if table.EprocPid != 0x440 {
		t.Errorf("EprocPid = %#x, want 0x440", table.EprocPid)
	}
}

func TestBuilderRequiresASource(t *testing.T) {
	_, err := NewBuilder().Build()
	if !xerr.Is(err, xerr.Configuration) {
		t.Fatalf("err = %v, want Configuration", err)
	}

	_, err = NewBuilder().SymbolStore(&fakeStore{}).Build()
	if !xerr.Is(err, xerr.Configuration) {
		t.Fatalf("err = %v, want Configuration without a guid", err)
	}
}
