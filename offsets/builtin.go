// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package offsets

import (
	"embed"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/memflow/memflow-win32-go/kernel"
)

// The built-in offset table: known (arch, version, guid) -> OffsetTable
// records compiled into the binary so runtimes without network access (or
// with the symbol store disabled) still bootstrap common kernels.
//
//go:embed builtin/*.toml
var builtinFS embed.FS

var (
	builtinOnce  sync.Once
	builtinFiles []File
)

func builtin() []File {
	builtinOnce.Do(func() {
		entries, err := builtinFS.ReadDir("builtin")
		if err != nil {
			return
		}
		for _, e := range entries {
			data, err := builtinFS.ReadFile("builtin/" + e.Name())
			if err != nil {
				continue
			}
			var f File
			if err := toml.Unmarshal(data, &f); err != nil {
				continue
			}
			builtinFiles = append(builtinFiles, f)
		}
	})
	return builtinFiles
}

// LookupBuiltinGuid returns the built-in offset file whose PDB identity
// matches guid exactly.
func LookupBuiltinGuid(guid kernel.Guid) (*File, bool) {
	for i := range builtin() {
		f := &builtinFiles[i]
		if f.Header.PdbFileName == guid.FileName && f.Header.PdbGuid == guid.Guid {
			return f, true
		}
	}
	return nil, false
}

// LookupBuiltinVersion returns a built-in offset file for the given
// architecture and version triple. Guid-keyed lookup is preferred; this
// exists for targets whose kernel image yielded a version but no usable
// CodeView entry.
func LookupBuiltinVersion(tag ArchTag, version kernel.Version) (*File, bool) {
	for i := range builtin() {
		f := &builtinFiles[i]
		if f.Header.Arch == tag && f.Header.Version() == version {
			return f, true
		}
	}
	return nil, false
}
