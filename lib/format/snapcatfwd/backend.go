// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatfwd

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("snapcatfwd", probe, construct)
}

func probe(path string, opts datafile.Options) (bool, error) {
	files, err := discoverFamily(path)
	if err != nil {
		return false, nil
	}
	if len(files) == 0 {
		return false, nil
	}
	h, err := parseHeader(path)
	if err != nil {
		return false, nil
	}
	_, idOK := h.columnOf["id"]
	_, descOK := h.columnOf["desc_id"]
	return idOK && descOK, nil
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	h, err := parseHeader(path)
	if err != nil {
		return nil, err
	}
	if _, ok := h.columnOf["id"]; !ok {
		return nil, fmt.Errorf("%w: %s: no id column", arborerr.ErrHeaderMalformed, path)
	}
	if _, ok := h.columnOf["desc_id"]; !ok {
		return nil, fmt.Errorf("%w: %s: no desc_id column", arborerr.ErrHeaderMalformed, path)
	}
	return &Backend{
		path:        path,
		hdr:         h,
		nodeLoc:     map[int64]datafile.Locator{},
		descOfUID:   map[int64]int64{},
		ancestorsOf: map[int64][]int64{},
		dfs:         map[int]*dataFile{},
	}, nil
}

// Backend stitches a forward-linked snapshot family (newest first, each
// halo carrying only a desc_id local to the file walked immediately
// before it) into a single set of trees, resolving the whole family's
// ancestor adjacency once, eagerly, at EnumerateRoots time (the
// per-snapshot equivalent of _plant_trees; the contiguous-file dialects
// get this for free from "#tree" markers, this dialect has to build it).
type Backend struct {
	path string
	hdr  *header

	once       sync.Once
	buildErr   error
	files      []siblingFile
	roots      []datafile.RootDescriptor
	nodeLoc    map[int64]datafile.Locator   // uid -> its own row
	descOfUID  map[int64]int64              // uid -> its descendant's uid, -1 for roots
	ancestorsOf map[int64][]int64           // descendant uid -> immediate ancestor uids

	mu  sync.Mutex
	dfs map[int]*dataFile
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
	out := []field.Descriptor{
		{Name: "uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
		{Name: "desc_uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
	}
	for _, raw := range b.hdr.fields {
		if raw == "id" || raw == "desc_id" {
			continue
		}
		out = append(out, field.Descriptor{
			Name:   raw,
			Units:  b.hdr.units[strings.ToLower(raw)],
			Dtype:  field.DtypeFloat64,
			Source: field.SourceFile,
		})
	}
	return out
}

// plant walks the whole family once, from the newest snapshot to the
// oldest, synthesizing a global sequential uid per halo and matching each
// file's desc_id against the halo_id column of the file processed
// immediately before it, exactly as CatalogArbor._plant_trees does for
// Rockstar-style catalogs. A desc_id that doesn't resolve against the
// previous file's ids is promoted to a root rather than treated as an
// error: out_*.list families routinely drop a halo finder's false
// positive between snapshots.
func (b *Backend) plant(ctx context.Context) error {
	files, err := discoverFamily(b.path)
	if err != nil {
		return err
	}
	b.files = files

	var nextUID int64
	var prevIDIndex map[int64]int
	var prevUIDs []int64

	for i, sf := range files {
		df, err := b.openFile(i)
		if err != nil {
			return err
		}
		cols, err := df.rows()
		if err != nil {
			return err
		}
		idCol := cols["id"]
		descCol := cols["desc_id"]
		n := len(idCol)

		curIDIndex := make(map[int64]int, n)
		curUIDs := make([]int64, n)
		for j := 0; j < n; j++ {
			uid := nextUID
			nextUID++
			curUIDs[j] = uid
			b.nodeLoc[uid] = datafile.Locator{FileID: i, Index: j}

			localID := int64(math.Round(idCol[j]))
			curIDIndex[localID] = j

			descLocal := int64(math.Round(descCol[j]))
			root := i == 0 || descLocal == -1
			descGlobal := int64(-1)
			if !root {
				if prevIdx, ok := prevIDIndex[descLocal]; ok {
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

	dlog.Infof(ctx, "snapcatfwd: %s: stitched %d trees across %d snapshot files", b.path, len(b.roots), len(files))
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
	df := &dataFile{path: b.files[fileIndex].path, hdr: b.hdr}
	b.dfs[fileIndex] = df
	return df, nil
}

func (b *Backend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	if err := b.ensurePlanted(ctx); err != nil {
		return nil, err
	}
	return b.openFile(loc.FileID)
}

// SetupTree walks ancestorsOf outward from root's uid, collecting every
// ancestor it reaches; root's own desc_uid is forced to -1 regardless
// of what plant recorded (it is always -1 for a root by construction, but
// forcing it keeps this backend's contract identical to every other
// dialect's SetupTree).
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
