// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package address defines the tagged-integer address type shared by every
// layer of the kernel bootstrap pipeline. The same type is used for both
// physical and virtual addresses; callers are expected to know which space
// they are in from context, the same way raw pointers are untyped in C.
package address

import "fmt"

// Null is the sentinel value representing "no address". It is always 0:
// no physical or virtual address of interest is ever mapped at zero.
const Null Address = 0

// Address is a physical or virtual address.
type Address uint64

// IsNull reports whether a is the Null sentinel.
func (a Address) IsNull() bool {
	return a == Null
}

// Add returns a+off.
func (a Address) Add(off int64) Address {
	return Address(int64(a) + off)
}

// Sub returns the signed byte distance from b to a (a-b).
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}

// Mask returns a with only the low n bits kept.
func (a Address) Mask(n uint) Address {
	return a & ((Address(1) << n) - 1)
}

// AlignDown rounds a down to the nearest multiple of size, which must be a
// power of two.
func (a Address) AlignDown(size uint64) Address {
	return Address(uint64(a) &^ (size - 1))
}

// Uint64 returns a as a plain uint64, for arithmetic against raw file
// offsets and RVAs.
func (a Address) Uint64() uint64 {
	return uint64(a)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
