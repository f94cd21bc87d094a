// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symstore fetches PDBs from a Microsoft-compatible symbol server,
// keyed by (file name, guid), with an on-disk content-addressed cache.
package symstore

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memflow/memflow-win32-go/kernel"
	"github.com/memflow/memflow-win32-go/xerr"
)

const stage = "SymbolStoreClient"

// DefaultBaseURL is the public Microsoft symbol server.
const DefaultBaseURL = "https://msdl.microsoft.com/download/symbols"

// SymbolStore downloads PDBs and caches them on disk. The zero value is
// not usable; construct with New and adjust with the chained setters, the
// same builder-method shape the rest of this module uses.
type SymbolStore struct {
	baseURL   string
	cachePath string // empty means caching disabled
	client    *http.Client
}

// New returns a store pointed at the Microsoft symbol server with the
// cache under the user cache directory.
func New() *SymbolStore {
	cache := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cache = filepath.Join(dir, "memflow")
	}
	return &SymbolStore{
		baseURL:   DefaultBaseURL,
		cachePath: cache,
		client:    http.DefaultClient,
	}
}

// BaseURL points the store at a different symbol server.
func (s *SymbolStore) BaseURL(url string) *SymbolStore {
	s.baseURL = url
	return s
}

// NoCache disables the on-disk cache; every Load downloads.
func (s *SymbolStore) NoCache() *SymbolStore {
	s.cachePath = ""
	return s
}

// CachePath moves the on-disk cache.
func (s *SymbolStore) CachePath(path string) *SymbolStore {
	s.cachePath = path
	return s
}

// HTTPClient substitutes the transport, mainly for tests.
func (s *SymbolStore) HTTPClient(c *http.Client) *SymbolStore {
	s.client = c
	return s
}

// Load returns the PDB bytes for guid, from cache when possible. The cache
// key (file name, guid) pins the content, so a hit is never revalidated.
// Concurrent loaders racing on the same key may both download and both
// write; the contents are identical by construction, so the race is benign.
func (s *SymbolStore) Load(guid kernel.Guid) ([]byte, error) {
	if s.cachePath == "" {
		return s.download(guid)
	}

	cacheDir := filepath.Join(s.cachePath, guid.FileName)
	cacheFile := filepath.Join(cacheDir, guid.Guid)

	if buf, err := os.ReadFile(cacheFile); err == nil {
		log.Printf("symstore: reading pdb from local cache: %s", cacheFile)
		return buf, nil
	}

	buf, err := s.download(guid)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, xerr.Wrap(xerr.IO, stage, "creating pdb cache directory", err)
	}
	log.Printf("symstore: writing pdb to local cache: %s", cacheFile)
	tmp, err := os.CreateTemp(cacheDir, guid.Guid+".tmp*")
	if err != nil {
		return nil, xerr.Wrap(xerr.IO, stage, "creating pdb cache file", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, xerr.Wrap(xerr.IO, stage, "writing pdb to cache", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, xerr.Wrap(xerr.IO, stage, "writing pdb to cache", err)
	}
	if err := os.Rename(tmp.Name(), cacheFile); err != nil {
		os.Remove(tmp.Name())
		return nil, xerr.Wrap(xerr.IO, stage, "publishing pdb cache file", err)
	}

	return buf, nil
}

// download fetches the PDB from the store, retrying with the file.ptr
// pointer-file convention when the direct URL fails.
func (s *SymbolStore) download(guid kernel.Guid) ([]byte, error) {
	pdbURL := fmt.Sprintf("%s/%s/%s", s.baseURL, guid.FileName, guid.Guid)

	buf, err := s.downloadFile(pdbURL + "/" + guid.FileName)
	if err != nil {
		buf, err = s.downloadFile(pdbURL + "/file.ptr")
	}
	return buf, err
}

func (s *SymbolStore) downloadFile(url string) ([]byte, error) {
	log.Printf("symstore: downloading pdb from %s", url)
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, xerr.Wrap(xerr.Http, stage, "unable to download pdb", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerr.New(xerr.Http, stage, fmt.Sprintf("unexpected status %d downloading pdb", resp.StatusCode))
	}
	// The store must announce the length; it is the only integrity check
	// the symbol server protocol offers.
	if resp.ContentLength < 0 {
		return nil, xerr.New(xerr.Http, stage, "symbol server response carries no Content-Length")
	}

	buf, err := readAll(resp.Body, resp.ContentLength)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != resp.ContentLength {
		return nil, xerr.New(xerr.Http, stage, fmt.Sprintf("downloaded %d bytes, Content-Length said %d", len(buf), resp.ContentLength))
	}
	return buf, nil
}

// readAll drains r while a decorative progress worker periodically samples
// the running byte count. The worker is joined before returning; it never
// outlives the download.
func readAll(r io.Reader, total int64) ([]byte, error) {
	var read atomic.Int64

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				log.Printf("symstore: downloaded %d/%d bytes", read.Load(), total)
			}
		}
	}()

	buf := make([]byte, 0, total)
	chunk := make([]byte, 64*1024)
	var readErr error
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		read.Add(int64(n))
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = xerr.Wrap(xerr.Http, stage, "reading pdb download", err)
			break
		}
	}

	close(done)
	wg.Wait()
	if readErr != nil {
		return nil, readErr
	}
	return buf, nil
}
