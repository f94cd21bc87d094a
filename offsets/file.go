// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package offsets

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/memflow/memflow-win32-go/xerr"
)

// LoadFile reads a persisted offset file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerr.Wrap(xerr.IO, stage, "reading offset file", err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, xerr.Wrap(xerr.Offset, stage, "decoding offset file", err)
	}
	return &f, nil
}

// SaveFile writes f next to the other generated tables under dir, using
// the conventional {major}_{minor}_{build}_{arch}_{guid}.toml name, and
// returns the path written.
func SaveFile(dir string, f *File) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return "", xerr.Wrap(xerr.Offset, stage, "encoding offset file", err)
	}
	data := buf.Bytes()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerr.Wrap(xerr.IO, stage, "creating offset file directory", err)
	}
	path := filepath.Join(dir, f.FileName())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", xerr.Wrap(xerr.IO, stage, "writing offset file", err)
	}
	return path, nil
}
