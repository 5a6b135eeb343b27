// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatahf

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("snapcatahf", probe, construct)
}

func probe(path string, opts datafile.Options) (bool, error) {
	snaps, err := discoverFamily(path)
	if err != nil || len(snaps) == 0 {
		return false, nil
	}
	for _, s := range snaps {
		if s.parameterPath == path {
			if _, err := os.Stat(s.halosPath()); err != nil {
				return false, nil
			}
			return true, nil
		}
	}
	return false, nil
}

// chainedFile is one member of a planted family: its snapshot files, and
// the .AHF_mtree path AHFArbor._get_data_files reassigns to it ("AHF
// thinks in terms of progenitors and not descendents", so a file's own
// mtree actually links the file walked immediately after it in ascending
// catalog-number order).
type chainedFile struct {
	snap      snapshotFile
	mtreePath string
}

func buildChain(representative string) ([]chainedFile, error) {
	asc, err := discoverFamily(representative)
	if err != nil {
		return nil, err
	}
	if len(asc) == 0 {
		return nil, fmt.Errorf("%w: no .parameter family found for %s", arborerr.ErrHeaderMalformed, representative)
	}
	chain := make([]chainedFile, len(asc))
	for i, s := range asc {
		chain[i] = chainedFile{snap: s}
	}
	for i := 0; i < len(chain)-1; i++ {
		chain[i].mtreePath = chain[i+1].snap.mtreePath()
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain, nil
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	hdr, err := parseHalosHeader(chainRepresentative(path).halosPath())
	if err != nil {
		return nil, err
	}
	b := &Backend{
		representative: path,
		hdr:            hdr,
		hubbleConstant: 1.0,
		nodeLoc:        map[int64]datafile.Locator{},
		descOfUID:      map[int64]int64{},
		ancestorsOf:    map[int64][]int64{},
		dfs:            map[int]*dataFile{},
		redshiftOf:     map[int]float64{},
	}
	if snaps, err := discoverFamily(path); err == nil {
		for _, s := range snaps {
			if s.parameterPath == path {
				if vals, err := parseLogFile(s.logPath()); err == nil {
					if v, ok := vals["simu.omega0"]; ok {
						b.omegaMatter = v
					}
					if v, ok := vals["simu.lambda0"]; ok {
						b.omegaLambda = v
					}
					if v, ok := vals["simu.boxsize"]; ok {
						b.boxSize = v
					}
				}
				break
			}
		}
	}
	return b, nil
}

func chainRepresentative(path string) snapshotFile {
	return snapshotFile{parameterPath: path, stem: trimParameterSuffix(path)}
}

// Backend mounts an AHF snapshot family: one probe target's .parameter
// sibling chain, planted once (EnumerateRoots) by resolving every
// snapshot's .AHF_mtree weighted links against the previous (newer)
// snapshot's halo ids — the backward-linked analogue of snapcatfwd's
// forward-linked plant().
type Backend struct {
	representative string
	hdr            *header

	omegaMatter, omegaLambda, hubbleConstant float64
	boxSize                                  float64

	once        sync.Once
	buildErr    error
	files       []chainedFile
	roots       []datafile.RootDescriptor
	nodeLoc     map[int64]datafile.Locator
	descOfUID   map[int64]int64
	ancestorsOf map[int64][]int64
	redshiftOf  map[int]float64 // file index -> this snapshot's redshift

	mu  sync.Mutex
	dfs map[int]*dataFile
}

func (b *Backend) HeaderProperties() map[string]float64 {
	return map[string]float64{
		"omega_matter":    b.omegaMatter,
		"omega_lambda":    b.omegaLambda,
		"hubble_constant": b.hubbleConstant,
		"box_size":        b.boxSize,
	}
}

func (b *Backend) FieldDescriptors() []field.Descriptor {
	out := []field.Descriptor{
		{Name: "uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
		{Name: "desc_uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
		{Name: "redshift", Dtype: field.DtypeFloat64, Source: field.SourceFile},
	}
	for _, raw := range b.hdr.fields {
		if raw == "ID" {
			continue
		}
		out = append(out, field.Descriptor{
			Name:   raw,
			Dtype:  field.DtypeFloat64,
			Source: field.SourceFile,
		})
	}
	return out
}

func (b *Backend) plant(ctx context.Context) error {
	chain, err := buildChain(b.representative)
	if err != nil {
		return err
	}
	b.files = chain

	var nextUID int64
	var prevIDIndex map[int64]int
	var prevUIDs []int64

	for i, cf := range chain {
		df, err := b.openFile(i)
		if err != nil {
			return err
		}
		cols, err := df.rows()
		if err != nil {
			return err
		}
		idCol, ok := cols["ID"]
		if !ok {
			return fmt.Errorf("%w: %s: no ID column", arborerr.ErrHeaderMalformed, cf.snap.halosPath())
		}
		n := len(idCol)

		var links map[int64]int64
		if cf.mtreePath != "" {
			rows, err := readMtree(cf.mtreePath)
			if err != nil {
				return err
			}
			links = resolveLinks(rows)
		}

		if vals, err := parseParameterFile(cf.snap.parameterPath); err == nil {
			if z, ok := vals["z"]; ok {
				b.redshiftOf[i] = z
				df.redshift = z
			}
		}

		curIDIndex := make(map[int64]int, n)
		curUIDs := make([]int64, n)
		for j := 0; j < n; j++ {
			uid := nextUID
			nextUID++
			curUIDs[j] = uid
			b.nodeLoc[uid] = datafile.Locator{FileID: i, Index: j}

			localID := int64(math.Round(idCol[j]))
			curIDIndex[localID] = j

			root := i == 0
			descGlobal := int64(-1)
			if !root {
				descLocal, found := int64(-1), false
				if links != nil {
					descLocal, found = links[localID]
				}
				if !found {
					root = true
				} else if prevIdx, ok := prevIDIndex[descLocal]; ok {
					descGlobal = prevUIDs[prevIdx]
				} else {
					root = true
				}
			}
			b.descOfUID[uid] = descGlobal
			if root {
				b.roots = append(b.roots, datafile.RootDescriptor{UID: uid, Locator: datafile.Locator{FileID: i, Index: j}})
			} else {
				b.ancestorsOf[descGlobal] = append(b.ancestorsOf[descGlobal], uid)
			}
		}
		prevIDIndex = curIDIndex
		prevUIDs = curUIDs
	}

	dlog.Infof(ctx, "snapcatahf: %s: stitched %d trees across %d snapshot files", b.representative, len(b.roots), len(chain))
	return nil
}

func (b *Backend) ensurePlanted(ctx context.Context) error {
	b.once.Do(func() { b.buildErr = b.plant(ctx) })
	return b.buildErr
}

func (b *Backend) EnumerateRoots(ctx context.Context) ([]datafile.RootDescriptor, error) {
	if err := b.ensurePlanted(ctx); err != nil {
		return nil, err
	}
	return b.roots, nil
}

func (b *Backend) openFile(fileIndex int) (*dataFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if df, ok := b.dfs[fileIndex]; ok {
		return df, nil
	}
	if fileIndex >= len(b.files) {
		return nil, fmt.Errorf("%w: snapshot file index %d out of range", arborerr.ErrHeaderMalformed, fileIndex)
	}
	df := &dataFile{path: b.files[fileIndex].snap.halosPath(), hdr: b.hdr, redshift: b.redshiftOf[fileIndex], props: b.HeaderProperties()}
	b.dfs[fileIndex] = df
	return df, nil
}

func (b *Backend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	if err := b.ensurePlanted(ctx); err != nil {
		return nil, err
	}
	return b.openFile(loc.FileID)
}

// SetupTree walks ancestorsOf outward from root's uid; see
// format/snapcatfwd's identical traversal.
func (b *Backend) SetupTree(ctx context.Context, root datafile.RootDescriptor) ([]int64, []int64, []datafile.Locator, error) {
	if err := b.ensurePlanted(ctx); err != nil {
		return nil, nil, nil, err
	}

	uids := []int64{root.UID}
	descUIDs := []int64{-1}
	locs := []datafile.Locator{root.Locator}

	stack := []int64{root.UID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, anc := range b.ancestorsOf[cur] {
			uids = append(uids, anc)
			descUIDs = append(descUIDs, cur)
			loc, ok := b.nodeLoc[anc]
			if !ok {
				return nil, nil, nil, fmt.Errorf("%w: uid=%d has no recorded row", arborerr.ErrHeaderMalformed, anc)
			}
			locs = append(locs, loc)
			stack = append(stack, anc)
		}
	}
	return uids, descUIDs, locs, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, df := range b.dfs {
		if err := df.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
