// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package contreestxt

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("contreestxt", probe, construct)
}

// treeRange is the half-open byte range [start, end) of one tree's rows,
// immediately following its "#tree <uid>" marker line.
type treeRange struct {
	start, end int64
}

// Backend mounts a single Consistent Trees tree_*.dat file.
type Backend struct {
	path string
	hdr  *header

	mu     sync.Mutex
	ranges map[int64]treeRange

	df *dataFile
}

func probe(path string, opts datafile.Options) (bool, error) {
	if !strings.HasSuffix(path, ".dat") {
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
		if strings.Contains(line, "Consistent Trees") {
			return true, nil
		}
	}
	return false, nil
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	hdr, err := parseHeader(f)
	if err != nil {
		return nil, err
	}
	b := &Backend{path: path, hdr: hdr}
	b.df = &dataFile{path: path, hdr: hdr}
	return b, nil
}

func (b *Backend) HeaderProperties() map[string]float64 {
	return map[string]float64{
		"omega_matter":     b.hdr.omegaMatter,
		"omega_lambda":     b.hdr.omegaLambda,
		"hubble_constant":  b.hdr.hubbleConstant,
		"box_size":         b.hdr.boxSize,
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

// EnumerateRoots performs the single sequential scan that locates every
// "#tree <uid>" marker and records the byte range of the rows that follow
// it, caching those ranges for the SetupTree calls that follow.
func (b *Backend) EnumerateRoots(ctx context.Context) ([]datafile.RootDescriptor, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, b.path, err)
	}
	defer f.Close()
	if _, err := f.Seek(b.hdr.dataOffset, 0); err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	offset := b.hdr.dataOffset
	ranges := make(map[int64]treeRange)
	var roots []datafile.RootDescriptor
	curUID := int64(-1)
	var curStart int64

	for {
		line, rerr := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, "#tree ") {
			if curUID != -1 {
				ranges[curUID] = treeRange{curStart, offset}
			}
			uidStr := strings.TrimSpace(strings.TrimPrefix(trimmed, "#tree "))
			uid, perr := strconv.ParseInt(uidStr, 10, 64)
			if perr != nil {
				return nil, fmt.Errorf("%w: bad tree marker %q: %w", arborerr.ErrHeaderMalformed, trimmed, perr)
			}
			curUID = uid
			curStart = offset + int64(len(line))
			roots = append(roots, datafile.RootDescriptor{UID: uid, Locator: datafile.Locator{ByteOffset: curStart}})
		}
		offset += int64(len(line))
		if rerr != nil {
			break
		}
	}
	if curUID != -1 {
		ranges[curUID] = treeRange{curStart, offset}
	}

	b.mu.Lock()
	b.ranges = ranges
	b.mu.Unlock()
	dlog.Infof(ctx, "contreestxt: %s: found %d trees", b.path, len(roots))
	return roots, nil
}

func (b *Backend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	return b.df, nil
}

// SetupTree re-scans root's cached byte range, parsing every row's id and
// desc_id column directly (no field resolver round trip, since these two
// values are needed just to build the tree's adjacency before any field
// has been resolved). The row matching root's own uid is moved to index 0
// so it satisfies root ownership's "tree_id 0 is the root" invariant,
// regardless of where Consistent Trees physically placed the root line.
func (b *Backend) SetupTree(ctx context.Context, root datafile.RootDescriptor) ([]int64, []int64, []datafile.Locator, error) {
	b.mu.Lock()
	rng, ok := b.ranges[root.UID]
	b.mu.Unlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: no tree rooted at uid=%d", arborerr.ErrHeaderMalformed, root.UID)
	}

	f, err := os.Open(b.path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, b.path, err)
	}
	defer f.Close()
	if _, err := f.Seek(rng.start, 0); err != nil {
		return nil, nil, nil, err
	}

	idCol := b.hdr.columnOf["id"]
	descCol := b.hdr.columnOf["desc_id"]

	r := bufio.NewReader(f)
	offset := rng.start
	var uids, descUIDs []int64
	var locs []datafile.Locator
	rootIdx := -1

	for offset < rng.end {
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
			locs = append(locs, datafile.Locator{ByteOffset: offset})
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
	return b.df.Close()
}
