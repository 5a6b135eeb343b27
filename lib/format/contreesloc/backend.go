// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package contreesloc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("contreesloc", probe, construct)
}

// treeLoc is the resolved [start, end) byte range of one tree's rows
// inside its own grouped file, found by a per-file "#tree" marker scan
// rather than trusted as an arithmetic derivation of locations.dat's own
// offsets (this module's own equivalent of _plant_trees' same_file/lkey
// bookkeeping, traded for a direct scan since the marker line is already
// unambiguous).
type treeLoc struct {
	fileID     int
	start, end int64
}

// Backend mounts a locations.dat manifest spanning several tree_*.dat
// files that together hold one dialect's full set of trees.
type Backend struct {
	m   *manifest
	hdr *header

	mu      sync.Mutex
	ranges  map[int64]treeLoc
	scanned map[int]bool
	dfs     map[int]*dataFile
}

func probe(path string, opts datafile.Options) (bool, error) {
	if filepath.Base(path) != "locations.dat" {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		if strings.Contains(line, manifestHeaderMarker) {
			return true, nil
		}
	}
	return false, nil
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	m, err := parseManifest(path)
	if err != nil {
		return nil, err
	}
	hf, err := os.Open(m.headerFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, m.headerFile, err)
	}
	defer hf.Close()
	hdr, err := parseHeader(hf)
	if err != nil {
		return nil, err
	}
	return &Backend{
		m:       m,
		hdr:     hdr,
		ranges:  make(map[int64]treeLoc),
		scanned: make(map[int]bool),
		dfs:     make(map[int]*dataFile),
	}, nil
}

func (b *Backend) HeaderProperties() map[string]float64 {
	return map[string]float64{
		"omega_matter":    b.hdr.omegaMatter,
		"omega_lambda":    b.hdr.omegaLambda,
		"hubble_constant": b.hdr.hubbleConstant,
		"box_size":        b.hdr.boxSize,
	}
}

func (b *Backend) FieldDescriptors() []field.Descriptor {
	out := make([]field.Descriptor, 0, len(b.hdr.fields))
	for _, raw := range b.hdr.fields {
		name := canonicalFieldName(raw)
		dtype := field.DtypeFloat64
		if name == "uid" || name == "desc_uid" {
			dtype = field.DtypeInt64
		}
		out = append(out, field.Descriptor{
			Name:   name,
			Units:  b.hdr.units[strings.ToLower(raw)],
			Dtype:  dtype,
			Source: field.SourceFile,
		})
	}
	return out
}

// scanFile performs the single sequential "#tree <uid>" scan of one
// grouped file, caching every tree range it finds so later SetupTree
// calls never rescan.
func (b *Backend) scanFile(fileID int) error {
	b.mu.Lock()
	if b.scanned[fileID] {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	path, ok := b.m.fileByID[fileID]
	if !ok {
		return fmt.Errorf("%w: no filename registered for FileID %d", arborerr.ErrHeaderMalformed, fileID)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	curUID := int64(-1)
	var curStart int64
	found := map[int64]treeLoc{}

	for {
		line, rerr := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, "#tree ") {
			if curUID != -1 {
				found[curUID] = treeLoc{fileID: fileID, start: curStart, end: offset}
			}
			uidStr := strings.TrimSpace(strings.TrimPrefix(trimmed, "#tree "))
			uid, perr := strconv.ParseInt(uidStr, 10, 64)
			if perr != nil {
				return fmt.Errorf("%w: bad tree marker %q: %w", arborerr.ErrHeaderMalformed, trimmed, perr)
			}
			curUID = uid
			curStart = offset + int64(len(line))
		}
		offset += int64(len(line))
		if rerr != nil {
			break
		}
	}
	if curUID != -1 {
		found[curUID] = treeLoc{fileID: fileID, start: curStart, end: offset}
	}

	b.mu.Lock()
	for uid, loc := range found {
		b.ranges[uid] = loc
	}
	b.scanned[fileID] = true
	b.mu.Unlock()
	return nil
}

// EnumerateRoots scans every referenced file once, then returns one
// RootDescriptor per manifest row in the manifest's own declared order.
func (b *Backend) EnumerateRoots(ctx context.Context) ([]datafile.RootDescriptor, error) {
	seen := map[int]bool{}
	for _, row := range b.m.rows {
		if seen[row.fileID] {
			continue
		}
		seen[row.fileID] = true
		if err := b.scanFile(row.fileID); err != nil {
			return nil, err
		}
	}
	out := make([]datafile.RootDescriptor, 0, len(b.m.rows))
	for _, row := range b.m.rows {
		out = append(out, datafile.RootDescriptor{
			UID:     row.uid,
			Locator: datafile.Locator{FileID: row.fileID},
		})
	}
	dlog.Infof(ctx, "contreesloc: %s: found %d trees across %d files", b.m.headerFile, len(out), len(seen))
	return out, nil
}

func (b *Backend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if df, ok := b.dfs[loc.FileID]; ok {
		return df, nil
	}
	path, ok := b.m.fileByID[loc.FileID]
	if !ok {
		return nil, fmt.Errorf("%w: no filename registered for FileID %d", arborerr.ErrHeaderMalformed, loc.FileID)
	}
	df := &dataFile{path: path, hdr: b.hdr}
	b.dfs[loc.FileID] = df
	return df, nil
}

// SetupTree mirrors format/contreestxt's row scan, restricted to root's
// own grouped file and cached [start,end) range.
func (b *Backend) SetupTree(ctx context.Context, root datafile.RootDescriptor) ([]int64, []int64, []datafile.Locator, error) {
	if err := b.scanFile(root.Locator.FileID); err != nil {
		return nil, nil, nil, err
	}
	b.mu.Lock()
	loc, ok := b.ranges[root.UID]
	b.mu.Unlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: no tree rooted at uid=%d", arborerr.ErrHeaderMalformed, root.UID)
	}

	path := b.m.fileByID[loc.fileID]
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()
	if _, err := f.Seek(loc.start, 0); err != nil {
		return nil, nil, nil, err
	}

	idCol := b.hdr.columnOf["id"]
	descCol := b.hdr.columnOf["desc_id"]

	r := bufio.NewReader(f)
	offset := loc.start
	var uids, descUIDs []int64
	var locs []datafile.Locator
	rootIdx := -1

	for offset < loc.end {
		line, rerr := r.ReadString('\n')
		lineLen := int64(len(line))
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) != "" {
			cols := strings.Fields(trimmed)
			if idCol >= len(cols) || descCol >= len(cols) {
				return nil, nil, nil, fmt.Errorf("%w: row %q has too few columns", arborerr.ErrHeaderMalformed, trimmed)
			}
			uid, err := strconv.ParseInt(cols[idCol], 10, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%w: bad id column: %w", arborerr.ErrHeaderMalformed, err)
			}
			descUID, err := strconv.ParseInt(cols[descCol], 10, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%w: bad desc_id column: %w", arborerr.ErrHeaderMalformed, err)
			}
			if uid == root.UID {
				rootIdx = len(uids)
			}
			uids = append(uids, uid)
			descUIDs = append(descUIDs, descUID)
			locs = append(locs, datafile.Locator{FileID: loc.fileID, ByteOffset: offset})
		}
		offset += lineLen
		if rerr != nil {
			break
		}
	}

	if rootIdx < 0 {
		return nil, nil, nil, fmt.Errorf("%w: tree rooted at uid=%d never lists its own row", arborerr.ErrHeaderMalformed, root.UID)
	}
	if rootIdx != 0 {
		uids[0], uids[rootIdx] = uids[rootIdx], uids[0]
		descUIDs[0], descUIDs[rootIdx] = descUIDs[rootIdx], descUIDs[0]
		locs[0], locs[rootIdx] = locs[rootIdx], locs[0]
	}
	descUIDs[0] = -1
	return uids, descUIDs, locs, nil
}

func (b *Backend) Close() error {
	var firstErr error
	for _, df := range b.dfs {
		if err := df.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
