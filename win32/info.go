// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package win32

import (
	"log"

	"github.com/memflow/memflow-win32-go/address"
	"github.com/memflow/memflow-win32-go/arch"
	"github.com/memflow/memflow-win32-go/kernel"
	"github.com/memflow/memflow-win32-go/memio"
	"github.com/memflow/memflow-win32-go/startblock"
	"github.com/memflow/memflow-win32-go/xerr"
)

// InfoScanner runs the discovery half of the bootstrap: start block,
// ntoskrnl base, guid, version, and system process. Overrides collapse the
// corresponding stages; supplying all of (arch, dtb, kernel hint) skips
// the start-block scan entirely.
type InfoScanner struct {
	phys memio.PhysicalMemory
	vat  memio.VirtualTranslate

	archIdent  *arch.Ident
	kernelHint address.Address
	dtb        address.Address
}

// NewInfoScanner returns a scanner over the given connector and
// translation engine.
func NewInfoScanner(phys memio.PhysicalMemory, vat memio.VirtualTranslate) *InfoScanner {
	return &InfoScanner{phys: phys, vat: vat}
}

// Arch pins the target architecture instead of probing for it.
func (s *InfoScanner) Arch(ident arch.Ident) *InfoScanner {
	s.archIdent = &ident
	return s
}

// KernelHint supplies a virtual kernel-base hint.
func (s *InfoScanner) KernelHint(hint address.Address) *InfoScanner {
	s.kernelHint = hint
	return s
}

// Dtb supplies the kernel directory table base.
func (s *InfoScanner) Dtb(dtb address.Address) *InfoScanner {
	s.dtb = dtb
	return s
}

// Scan runs discovery. The only retry in the pipeline lives here: if
// everything downstream of the first start block fails, the scanner asks
// for the next candidate once and re-runs.
func (s *InfoScanner) Scan() (*KernelInfo, error) {
	var sb startblock.StartBlock
	if s.archIdent != nil && !s.dtb.IsNull() && !s.kernelHint.IsNull() {
		sb = startblock.StartBlock{Arch: *s.archIdent, Dtb: s.dtb, KernelHint: s.kernelHint}
	} else {
		hint := arch.X64
		if s.archIdent != nil {
			hint = *s.archIdent
		}
		found, err := startblock.Find(s.phys, hint)
		if err != nil {
			return nil, err
		}
		if found.KernelHint.IsNull() && !s.kernelHint.IsNull() {
			found.KernelHint = s.kernelHint
		}
		sb = found
	}

	info, err := s.scanBlock(sb)
	if err == nil {
		return info, nil
	}

	fallback, ferr := startblock.FindFallback(s.phys, sb)
	if ferr != nil {
		return nil, err
	}
	return s.scanBlock(fallback)
}

func (s *InfoScanner) scanBlock(sb startblock.StartBlock) (*KernelInfo, error) {
	log.Printf("win32: arch=%v kernel_hint=%v dtb=%v", sb.Arch, sb.KernelHint, sb.Dtb)

	a := arch.ByIdent(sb.Arch)
	if a == nil {
		return nil, xerr.New(xerr.Configuration, "KernelBuilder", "unknown architecture in start block")
	}
	virtMem := memio.NewVirtualDma(s.phys, s.vat, a, sb.Dtb)

	base, size, err := kernel.LocateNtos(virtMem, s.vat, a, sb.Dtb, sb.KernelHint)
	if err != nil {
		return nil, err
	}
	log.Printf("win32: ntoskrnl base=%v size=%#x", base, size)

	// Guid and version discovery are best effort: a kernel without a
	// usable CodeView entry can still bootstrap from the built-in table,
	// and a missing version degrades to the floor value.
	var guid *kernel.Guid
	if g, err := kernel.FindGuid(virtMem, base); err == nil {
		guid = &g
		log.Printf("win32: kernel_guid=%s/%s", g.FileName, g.Guid)
	} else {
		log.Printf("win32: unable to find kernel guid: %v", err)
	}

	version, err := kernel.FindWinver(virtMem, base)
	if err != nil {
		log.Printf("win32: failed to retrieve kernel version, some features may be degraded: %v", err)
		version = kernel.DefaultVersion
	}
	log.Printf("win32: kernel_version=%v", version)

	eprocessBase, err := kernel.FindSysProc(virtMem, a, base)
	if err != nil {
		return nil, err
	}
	log.Printf("win32: eprocess_base=%v", eprocessBase)

	return &KernelInfo{
		OsInfo:        OsInfo{Base: base, Size: size, Arch: sb.Arch},
		Dtb:           sb.Dtb,
		KernelGuid:    guid,
		KernelVersion: version,
		EprocessBase:  eprocessBase,
	}, nil
}
