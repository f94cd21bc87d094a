// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package offsets

import (
	"log"

	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/kernel"
	"github.com/memflow/memflow-win32-go/xerr"
)

// SymbolSource fetches a PDB by identity. It is implemented by
// symstore.SymbolStore; the indirection keeps this package free of the
// HTTP client for callers that only ever use offset files or the built-in
// table.
type SymbolSource interface {
	Load(guid kernel.Guid) ([]byte, error)
}

// Builder resolves an OffsetTable from one of three sources, in order:
// a user-supplied offset file path, the built-in table, or a PDB pulled
// from a symbol store by guid. Configure with the chained setters and call
// Build once.
type Builder struct {
	filePath string
	guid     *kernel.Guid
	version  *kernel.Version
	archTag  ArchTag
	store    SymbolSource
}

// NewBuilder returns an empty Builder; before Build it needs a file path,
// a guid (with a symbol store or a built-in match), or a version and
// architecture that the built-in table covers.
func NewBuilder() *Builder {
	return &Builder{}
}

// OffsetFile points the builder at a persisted offset file, bypassing the
// built-in table and the symbol store entirely.
func (b *Builder) OffsetFile(path string) *Builder {
	b.filePath = path
	return b
}

// Guid sets the PDB identity to resolve offsets for.
func (b *Builder) Guid(guid kernel.Guid) *Builder {
	b.guid = &guid
	return b
}

// HasGuid reports whether a guid has been set; the kernel scanner uses it
// to avoid overriding a user-supplied identity with the discovered one.
func (b *Builder) HasGuid() bool {
	return b.guid != nil
}

// Version sets the kernel version triple, used for built-in table lookup
// when no guid is available.
func (b *Builder) Version(v kernel.Version) *Builder {
	b.version = &v
	return b
}

// HasVersion reports whether a version has been set.
func (b *Builder) HasVersion() bool {
	return b.version != nil
}

// Arch sets the architecture tag for built-in table lookup.
func (b *Builder) Arch(ident arch.Ident) *Builder {
	b.archTag = TagForIdent(ident)
	return b
}

// HasArch reports whether an architecture has been set.
func (b *Builder) HasArch() bool {
	return b.archTag != ""
}

// SymbolStore supplies the PDB fetcher consulted when neither an offset
// file nor a built-in record covers the target.
func (b *Builder) SymbolStore(store SymbolSource) *Builder {
	b.store = store
	return b
}

// Build resolves the offset table.
func (b *Builder) Build() (*OffsetTable, error) {
	if b.filePath != "" {
		f, err := LoadFile(b.filePath)
		if err != nil {
			return nil, err
		}
		return &f.Offsets, nil
	}

	// The built-in table is consulted before the network: a known build
	// needs no symbol store at all.
	if b.guid != nil {
		if f, ok := LookupBuiltinGuid(*b.guid); ok {
			log.Printf("offsets: using built-in table for %s/%s", f.Header.PdbFileName, f.Header.PdbGuid)
			return &f.Offsets, nil
		}
	} else if b.version != nil && b.archTag != "" {
		if f, ok := LookupBuiltinVersion(b.archTag, *b.version); ok {
			log.Printf("offsets: using built-in table for %s %s", f.Header.Arch, f.Header.Version())
			return &f.Offsets, nil
		}
	}

	if b.store == nil {
		return nil, xerr.New(xerr.Configuration, stage, "no offset file, no built-in table match, and no symbol store configured")
	}
	if b.guid == nil {
		return nil, xerr.New(xerr.Configuration, stage, "symbol store lookup requires a pdb guid")
	}

	data, err := b.store.Load(*b.guid)
	if err != nil {
		return nil, err
	}
	return FromPdb(data)
}
