// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package inlinepack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/datawire/dlib/dlog"
	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("inlinepack", probe, construct)
}

func probe(path string, opts datafile.Options) (bool, error) {
	if !strings.HasSuffix(path, shardSuffix) {
		return false, nil
	}
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return false, nil
	}
	defer f.Close()
	meta, err := f.OpenGroup("meta")
	if err != nil {
		return false, nil
	}
	defer meta.Close()
	tag, err := readBytes(meta, "arbor_type")
	if err != nil {
		return false, nil
	}
	return string(tag) == inlineTag, nil
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	shards, err := discoverShards(path)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w: no inline-pack shards found for %s", arborerr.ErrHeaderMalformed, path)
	}

	f, err := hdf5.OpenFile(shards[0].path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, shards[0].path, err)
	}
	defer f.Close()
	meta, err := f.OpenGroup("meta")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: no meta group: %w", arborerr.ErrHeaderMalformed, shards[0].path, err)
	}
	defer meta.Close()

	namesRaw, err := readBytes(meta, "field_names")
	if err != nil {
		return nil, err
	}
	names := strings.Split(string(namesRaw), "\n")

	fields := make([]field.Descriptor, 0, len(names)+3)
	fields = append(fields,
		field.Descriptor{Name: "uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
		field.Descriptor{Name: "desc_uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
		field.Descriptor{Name: "redshift", Dtype: field.DtypeFloat64, Source: field.SourceFile},
	)
	for _, raw := range names {
		if raw == "" {
			continue
		}
		fields = append(fields, field.Descriptor{Name: raw, Dtype: field.DtypeFloat64, Source: field.SourceFile})
	}

	props := map[string]float64{}
	for _, key := range []string{"omega_matter", "omega_lambda", "hubble_constant", "box_size"} {
		if v, err := readScalarFloat(meta, key); err == nil {
			props[key] = v
		}
	}

	redshiftBySnap, err := readFloats(meta, "redshift_by_snapshot")
	if err != nil {
		return nil, err
	}

	return &Backend{
		shards:         shards,
		fields:         fields,
		props:          props,
		redshiftBySnap: redshiftBySnap,
		dfs:            map[int]*dataFile{},
		rootSize:       map[datafile.Locator]int64{},
	}, nil
}

func readScalarFloat(loc location, name string) (float64, error) {
	vals, err := readFloats(loc, name)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}

// Backend mounts one or more inline-pack shards as a single arbor. A
// halo's uid is its row's own position in the concatenated row space
// across every shard (mirroring Gadget4Arbor._plant_trees's "uid =
// offset"); descendant links are tree-relative on disk and translated to
// global uids against the tree's own root uid in SetupTree.
type Backend struct {
	shards         []shardFile
	fields         []field.Descriptor
	props          map[string]float64
	redshiftBySnap []float64

	once     sync.Once
	buildErr error
	roots    []datafile.RootDescriptor
	rootSize map[datafile.Locator]int64

	mu  sync.Mutex
	dfs map[int]*dataFile
}

func (b *Backend) HeaderProperties() map[string]float64 { return b.props }
func (b *Backend) FieldDescriptors() []field.Descriptor { return b.fields }

func (b *Backend) openShard(shardIndex int) (*dataFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if df, ok := b.dfs[shardIndex]; ok {
		return df, nil
	}
	if shardIndex < 0 || shardIndex >= len(b.shards) {
		return nil, fmt.Errorf("%w: shard index %d out of range", arborerr.ErrHeaderMalformed, shardIndex)
	}
	f, err := hdf5.OpenFile(b.shards[shardIndex].path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, b.shards[shardIndex].path, err)
	}
	grp, err := f.OpenGroup("TreeHalos")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: no TreeHalos group: %w", arborerr.ErrHeaderMalformed, b.shards[shardIndex].path, err)
	}
	df := &dataFile{
		path:           b.shards[shardIndex].path,
		props:          b.props,
		redshiftBySnap: b.redshiftBySnap,
		f:              f,
		treeHalos:      grp,
		cache:          map[string][]float64{},
	}
	b.dfs[shardIndex] = df
	return df, nil
}

func (b *Backend) plant(ctx context.Context) error {
	var globalBase int64
	for shardIdx, sf := range b.shards {
		df, err := b.openShard(shardIdx)
		if err != nil {
			return err
		}
		snapCol, err := df.column("SnapNum")
		if err != nil {
			return err
		}

		f, err := hdf5.OpenFile(sf.path, hdf5.F_ACC_RDONLY)
		if err != nil {
			return err
		}
		table, err := f.OpenGroup("TreeTable")
		if err != nil {
			f.Close()
			return fmt.Errorf("%w: %s: no TreeTable group: %w", arborerr.ErrHeaderMalformed, sf.path, err)
		}
		starts, err := readInts(table, "StartOffset")
		if err != nil {
			table.Close()
			f.Close()
			return err
		}
		lengths, err := readInts(table, "Length")
		table.Close()
		f.Close()
		if err != nil {
			return err
		}

		for i, start := range starts {
			loc := datafile.Locator{FileID: shardIdx, Index: int(start)}
			uid := globalBase + start
			b.roots = append(b.roots, datafile.RootDescriptor{UID: uid, Locator: loc})
			b.rootSize[loc] = lengths[i]
		}
		globalBase += int64(len(snapCol))
	}
	dlog.Infof(ctx, "inlinepack: mounted %d trees across %d shards", len(b.roots), len(b.shards))
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

func (b *Backend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	return b.openShard(loc.FileID)
}

func (b *Backend) SetupTree(ctx context.Context, root datafile.RootDescriptor) ([]int64, []int64, []datafile.Locator, error) {
	size, ok := b.rootSize[root.Locator]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: no tree size recorded for uid=%d", arborerr.ErrHeaderMalformed, root.UID)
	}
	df, err := b.openShard(root.Locator.FileID)
	if err != nil {
		return nil, nil, nil, err
	}
	descCol, err := df.column("TreeDescendant")
	if err != nil {
		return nil, nil, nil, err
	}

	start := root.Locator.Index
	end := start + int(size)
	if end > len(descCol) {
		return nil, nil, nil, fmt.Errorf("%w: tree block [%d,%d) exceeds shard size %d", arborerr.ErrHeaderMalformed, start, end, len(descCol))
	}

	uids := make([]int64, size)
	descUIDs := make([]int64, size)
	locs := make([]datafile.Locator, size)
	for j := start; j < end; j++ {
		i := j - start
		uids[i] = root.UID + int64(i)
		local := int64(descCol[j])
		if local < 0 {
			descUIDs[i] = -1
		} else {
			descUIDs[i] = root.UID + local
		}
		locs[i] = datafile.Locator{FileID: root.Locator.FileID, Index: j}
	}
	descUIDs[0] = -1
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
