// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package address

import "testing"

func TestNull(t *testing.T) {
	if !Null.IsNull() {
		t.Errorf("Null.IsNull() = false, want true")
	}
	if Address(1).IsNull() {
		t.Errorf("Address(1).IsNull() = true, want false")
	}
}

func TestAddSub(t *testing.T) {
	a := Address(0x1000)
	b := a.Add(0x10)
	if b != 0x1010 {
		t.Fatalf("Add = %v, want 0x1010", b)
	}
	if d := b.Sub(a); d != 0x10 {
		t.Errorf("Sub = %d, want 0x10", d)
	}
	if d := a.Sub(b); d != -0x10 {
		t.Errorf("Sub (negative) = %d, want -0x10", d)
	}
}

func TestMask(t *testing.T) {
	a := Address(0xFFFF_FFFF_FFFF_FFFF)
	if got := a.Mask(12); got != 0xFFF {
		t.Errorf("Mask(12) = %#x, want 0xfff", uint64(got))
	}
}

func TestAlignDown(t *testing.T) {
	a := Address(0x1234)
	if got := a.AlignDown(0x1000); got != 0x1000 {
		t.Errorf("AlignDown(0x1000) = %#x, want 0x1000", uint64(got))
	}
}

func TestString(t *testing.T) {
	if got, want := Address(0x2a).String(), "0x2a"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
