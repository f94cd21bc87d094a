// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"time"

	"github.com/memflow/memflow-win32-go/address"
)

// CachedPhysicalMemory wraps a PhysicalMemory connector with a fixed-size,
// time-limited page cache. It implements PhysicalMemory itself, so it can
// be substituted transparently wherever the uncached connector was used;
// the kernel builder swaps it in as a plain interface value rather than
// threading cache types through its own type parameters.
type CachedPhysicalMemory struct {
	inner    PhysicalMemory
	pageSize uint64
	ttl      time.Duration
	entries  map[address.Address]cacheEntry
	order    []address.Address
	maxSize  int
}

type cacheEntry struct {
	data   []byte
	stored time.Time
}

// NewCachedPhysicalMemory wraps inner with a cache of up to maxEntries
// pages of pageSize bytes, each valid for ttl before being re-fetched.
func NewCachedPhysicalMemory(inner PhysicalMemory, pageSize uint64, maxEntries int, ttl time.Duration) *CachedPhysicalMemory {
	return &CachedPhysicalMemory{
		inner:    inner,
		pageSize: pageSize,
		ttl:      ttl,
		entries:  make(map[address.Address]cacheEntry, maxEntries),
		maxSize:  maxEntries,
	}
}

func (c *CachedPhysicalMemory) pageOf(addr address.Address) address.Address {
	return addr.AlignDown(c.pageSize)
}

// ReadPhysicalAt implements PhysicalMemory, serving whole pages from cache
// when possible and falling back to inner otherwise.
func (c *CachedPhysicalMemory) ReadPhysicalAt(addr address.Address, buf []byte) (int, error) {
	if uint64(len(buf)) > c.pageSize {
		// Oversized reads bypass the cache entirely; this only exists to
		// speed up the small, repeated reads the bootstrap pipeline makes
		// (export lookups, header re-reads), not bulk image transfers.
		return c.inner.ReadPhysicalAt(addr, buf)
	}

	page := c.pageOf(addr)
	off := int(addr.Sub(page))

	if e, ok := c.entries[page]; ok && time.Since(e.stored) < c.ttl {
		n := copy(buf, e.data[off:])
		return n, nil
	}

	data := make([]byte, c.pageSize)
	n, err := c.inner.ReadPhysicalAt(page, data)
	if err != nil && n == 0 {
		return 0, err
	}

	c.store(page, data)
	return copy(buf, data[off:]), nil
}

func (c *CachedPhysicalMemory) store(page address.Address, data []byte) {
	if _, exists := c.entries[page]; !exists {
		if c.maxSize > 0 && len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, page)
	}
	c.entries[page] = cacheEntry{data: data, stored: time.Now()}
}

// CachedVirtualTranslate wraps a VirtualTranslate engine with a translation
// (TLB-like) cache, keyed by (dtb, virtual page).
type CachedVirtualTranslate struct {
	inner    VirtualTranslate
	pageSize uint64
	ttl      time.Duration
	entries  map[vtKey]vtEntry
	order    []vtKey
	maxSize  int
}

type vtKey struct {
	dtb address.Address
	va  address.Address
}

type vtEntry struct {
	pa     address.Address
	stored time.Time
}

// NewCachedVirtualTranslate wraps inner with a translation cache of up to
// maxEntries entries, each valid for ttl.
func NewCachedVirtualTranslate(inner VirtualTranslate, pageSize uint64, maxEntries int, ttl time.Duration) *CachedVirtualTranslate {
	return &CachedVirtualTranslate{
		inner:    inner,
		pageSize: pageSize,
		ttl:      ttl,
		entries:  make(map[vtKey]vtEntry, maxEntries),
		maxSize:  maxEntries,
	}
}

// Translate implements VirtualTranslate.
func (c *CachedVirtualTranslate) Translate(dtb, va address.Address) (address.Address, error) {
	page := va.AlignDown(c.pageSize)
	off := va.Sub(page)
	key := vtKey{dtb: dtb, va: page}

	if e, ok := c.entries[key]; ok && time.Since(e.stored) < c.ttl {
		return e.pa.Add(off), nil
	}

	pa, err := c.inner.Translate(dtb, page)
	if err != nil {
		return address.Null, err
	}

	if _, exists := c.entries[key]; !exists {
		if c.maxSize > 0 && len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = vtEntry{pa: pa, stored: time.Now()}

	return pa.Add(off), nil
}

// VirtualRanges implements VirtualTranslate by delegating directly: range
// enumeration is only used once per bootstrap (NtosLocator's page-map scan),
// so caching it would add complexity for no measurable benefit.
func (c *CachedVirtualTranslate) VirtualRanges(dtb address.Address, low, high address.Address) ([]Range, error) {
	return c.inner.VirtualRanges(dtb, low, high)
}
