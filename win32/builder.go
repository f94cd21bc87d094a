// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package win32

import (
	"time"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/offsets"
	"github.com/memflow/memflow-win32-go/symstore"
	"github.com/memflow/memflow-win32-go/xerr"
)

const builderStage = "KernelBuilder"

// CacheConfig sizes one of the builder's optional cache layers. A
// non-positive TTL means entries never expire.
type CacheConfig struct {
	Entries int
	TTL     time.Duration
}

var defaultPageCache = CacheConfig{Entries: 1024, TTL: time.Second}
var defaultVatCache = CacheConfig{Entries: 2048, TTL: time.Second}

// KernelBuilder composes the whole bootstrap pipeline. Configure with the
// chained setters, then call Build once; no partial context is ever
// returned.
type KernelBuilder struct {
	phys memio.PhysicalMemory
	vat  memio.VirtualTranslate

	archIdent  *arch.Ident
	kernelHint address.Address
	dtb        address.Address

	symStore   offsets.SymbolSource
	noSymStore bool
	offsetFile string

	pageCache *CacheConfig
	vatCache  *CacheConfig
}

// NewKernelBuilder returns a builder over the given physical-memory
// connector and translation engine, with the default symbol store and no
// caches.
func NewKernelBuilder(phys memio.PhysicalMemory, vat memio.VirtualTranslate) *KernelBuilder {
	return &KernelBuilder{phys: phys, vat: vat}
}

// Arch pins the target architecture.
func (b *KernelBuilder) Arch(ident arch.Ident) *KernelBuilder {
	b.archIdent = &ident
	return b
}

// KernelHint supplies a virtual kernel-base hint.
func (b *KernelBuilder) KernelHint(hint address.Address) *KernelBuilder {
	b.kernelHint = hint
	return b
}

// Dtb supplies the kernel directory table base. Together with Arch and
// KernelHint it skips the start-block scan.
func (b *KernelBuilder) Dtb(dtb address.Address) *KernelBuilder {
	b.dtb = dtb
	return b
}

// SymbolStore overrides the default symbol store.
func (b *KernelBuilder) SymbolStore(store offsets.SymbolSource) *KernelBuilder {
	b.symStore = store
	b.noSymStore = false
	return b
}

// NoSymbolStore disables symbol fetching entirely; only an offset file or
// the built-in table can then satisfy offset resolution.
func (b *KernelBuilder) NoSymbolStore() *KernelBuilder {
	b.symStore = nil
	b.noSymStore = true
	return b
}

// OffsetFile resolves offsets from a persisted offset file instead of a
// PDB.
func (b *KernelBuilder) OffsetFile(path string) *KernelBuilder {
	b.offsetFile = path
	return b
}

// DefaultCaches enables the page cache and the translation cache with
// default sizing.
func (b *KernelBuilder) DefaultCaches() *KernelBuilder {
	page, vat := defaultPageCache, defaultVatCache
	b.pageCache = &page
	b.vatCache = &vat
	return b
}

// PageCache enables the physical page cache with explicit sizing.
func (b *KernelBuilder) PageCache(cfg CacheConfig) *KernelBuilder {
	b.pageCache = &cfg
	return b
}

// VatCache enables the translation cache with explicit sizing.
func (b *KernelBuilder) VatCache(cfg CacheConfig) *KernelBuilder {
	b.vatCache = &cfg
	return b
}

// Build runs the pipeline: scan, identify, resolve offsets, wrap caches,
// and assemble the final context.
func (b *KernelBuilder) Build() (*KernelContext, error) {
	if b.phys == nil || b.vat == nil {
		return nil, xerr.New(xerr.Configuration, builderStage, "must provide physical memory and a translation engine")
	}

	scanner := NewInfoScanner(b.phys, b.vat)
	if b.archIdent != nil {
		scanner = scanner.Arch(*b.archIdent)
	}
	if !b.kernelHint.IsNull() {
		scanner = scanner.KernelHint(b.kernelHint)
	}
	if !b.dtb.IsNull() {
		scanner = scanner.Dtb(b.dtb)
	}
	info, err := scanner.Scan()
	if err != nil {
		return nil, err
	}

	table, err := b.buildOffsets(info)
	if err != nil {
		return nil, err
	}

	a := arch.ByIdent(info.OsInfo.Arch)

	phys := b.phys
	if b.pageCache != nil {
		phys = memio.NewCachedPhysicalMemory(phys, a.PageSize, b.pageCache.Entries, effectiveTTL(b.pageCache.TTL))
	}
	vat := b.vat
	if b.vatCache != nil {
		vat = memio.NewCachedVirtualTranslate(vat, a.PageSize, b.vatCache.Entries, effectiveTTL(b.vatCache.TTL))
	}

	return &KernelContext{
		OsInfo:        info.OsInfo,
		Dtb:           info.Dtb,
		KernelGuid:    info.KernelGuid,
		KernelVersion: info.KernelVersion,
		EprocessBase:  info.EprocessBase,
		Offsets:       table,
		ArchOffsets:   arch.ForIdent(info.OsInfo.Arch),
		Phys:          phys,
		Vat:           vat,
		Mem:           memio.NewVirtualDma(phys, vat, a, info.Dtb),
	}, nil
}

func (b *KernelBuilder) buildOffsets(info *KernelInfo) (*offsets.OffsetTable, error) {
	ob := offsets.NewBuilder()
	if b.offsetFile != "" {
		ob = ob.OffsetFile(b.offsetFile)
	}
	if info.KernelGuid != nil {
		ob = ob.Guid(*info.KernelGuid)
	}
	ob = ob.Version(info.KernelVersion).Arch(info.OsInfo.Arch)

	if !b.noSymStore {
		store := b.symStore
		if store == nil {
			store = symstore.New()
		}
		ob = ob.SymbolStore(store)
	}
	return ob.Build()
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		// Never expire: the cache then only evicts by capacity.
		return time.Duration(1<<63 - 1)
	}
	return ttl
}
