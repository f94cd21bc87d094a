// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements the bootstrap stages that find, identify, and
// anchor into a Windows kernel image once a start block is known: locating
// the ntoskrnl image, extracting its PDB identity and version, and
// resolving the initial system process.
package kernel

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Guid is a kernel image's PDB identity: the PDB file name the linker
// recorded and the Microsoft symbol-server GUID string derived from its
// CodeView signature and age.
type Guid struct {
	FileName string
	Guid     string
}

// NewGuid renders signature and age the way the Microsoft symbol server
// expects: the 16-byte signature as uppercase hex with no separators,
// followed immediately by age in uppercase hex with no leading zeros.
func NewGuid(fileName string, signature [16]byte, age uint32) Guid {
	sigHex := strings.ToUpper(hex.EncodeToString(signature[:]))
	ageHex := strings.ToUpper(fmt.Sprintf("%x", age))
	return Guid{FileName: fileName, Guid: sigHex + ageHex}
}

// Version is a kernel build's (major, minor, build) triple, ordered
// lexicographically in that order.
type Version struct {
	Major uint32
	Minor uint32
	Build uint32
}

// DefaultVersion is the floor substituted when no version source yields a
// usable value.
var DefaultVersion = Version{Major: 3, Minor: 10, Build: 511}

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Build < o.Build
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
}
