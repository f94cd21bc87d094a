// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

import "testing"

func TestByIdent(t *testing.T) {
	cases := []struct {
		ident Ident
		want  *Architecture
	}{
		{X86, &X86Arch},
		{X86PAE, &X86PAEArch},
		{X64, &X64Arch},
		{AArch64, &AArch64Arch},
	}
	for _, c := range cases {
		got := ByIdent(c.ident)
		if got != c.want {
			t.Errorf("ByIdent(%v) = %v, want %v", c.ident, got, c.want)
		}
	}
}

func TestByIdentUnknown(t *testing.T) {
	if got := ByIdent(Ident(99)); got != nil {
		t.Errorf("ByIdent(99) = %v, want nil", got)
	}
}

func TestBits(t *testing.T) {
	if b := X64Arch.Bits(); b != 64 {
		t.Errorf("X64Arch.Bits() = %d, want 64", b)
	}
	if b := X86Arch.Bits(); b != 32 {
		t.Errorf("X86Arch.Bits() = %d, want 32", b)
	}
}

func TestIdentString(t *testing.T) {
	cases := map[Ident]string{
		X86:     "x86",
		X86PAE:  "x86_pae",
		X64:     "x64",
		AArch64: "aarch64",
	}
	for ident, want := range cases {
		if got := ident.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(ident), got, want)
		}
	}
}

func TestForIdent(t *testing.T) {
	if ForIdent(X86) != UserOffsetsX86 {
		t.Errorf("ForIdent(X86) mismatch")
	}
	if ForIdent(X86PAE) != UserOffsetsX86 {
		t.Errorf("ForIdent(X86PAE) mismatch")
	}
	if ForIdent(X64) != UserOffsetsX64 {
		t.Errorf("ForIdent(X64) mismatch")
	}
	if ForIdent(AArch64) != UserOffsetsAArch64 {
		t.Errorf("ForIdent(AArch64) mismatch")
	}
}
