// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package forestpack

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/datawire/dlib/dlog"
	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("forestpack", probe, construct)
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
	return string(tag) == forestTag, nil
}

// canonicalFieldName maps the on-disk "id"/"desc_id" datasets, already
// globally unique the way consistent-trees ids are, onto this module's
// uid/desc_uid convention.
func canonicalFieldName(raw string) string {
	switch raw {
	case "id":
		return "uid"
	case "desc_id":
		return "desc_uid"
	default:
		return raw
	}
}

func sourceColumnName(name string) string {
	switch name {
	case "uid":
		return "id"
	case "desc_uid":
		return "desc_id"
	default:
		return name
	}
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	shards, err := discoverShards(path)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w: no forest-pack shards found for %s", arborerr.ErrHeaderMalformed, path)
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
	unitsRaw, _ := readBytes(meta, "field_units")
	names := strings.Split(string(namesRaw), "\n")
	unitToks := strings.Split(string(unitsRaw), "\n")
	unitsOf := map[string]string{}
	for i, nm := range names {
		if i < len(unitToks) {
			unitsOf[nm] = unitToks[i]
		}
	}

	fields := make([]field.Descriptor, 0, len(names))
	for _, raw := range names {
		name := canonicalFieldName(raw)
		dtype := field.DtypeFloat64
		if name == "uid" || name == "desc_uid" {
			dtype = field.DtypeInt64
		}
		fields = append(fields, field.Descriptor{
			Name:   name,
			Units:  unitsOf[raw],
			Dtype:  dtype,
			Source: field.SourceFile,
		})
	}

	props := map[string]float64{}
	for _, key := range []string{"omega_matter", "omega_lambda", "hubble_constant", "box_size"} {
		if v, err := readScalarFloat(meta, key); err == nil {
			props[key] = v
		}
	}

	return &Backend{
		shards:   shards,
		fields:   fields,
		props:    props,
		dfs:      map[int]*dataFile{},
		rootSize: map[datafile.Locator]int64{},
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

// Backend mounts one or more struct-of-arrays forest-pack shards as a
// single arbor. A tree's halos occupy one contiguous block of every
// shard-level array (TreeInfo's offset/size pair), so SetupTree never
// needs adjacency bookkeeping the way the per-snapshot dialects do.
type Backend struct {
	shards []shardFile
	fields []field.Descriptor
	props  map[string]float64

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
	grp, err := f.OpenGroup("Forests")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: no Forests group: %w", arborerr.ErrHeaderMalformed, b.shards[shardIndex].path, err)
	}
	df := &dataFile{path: b.shards[shardIndex].path, props: b.props, f: f, forests: grp, cache: map[string][]float64{}}
	b.dfs[shardIndex] = df
	return df, nil
}

func (b *Backend) plant(ctx context.Context) error {
	for shardIdx, sf := range b.shards {
		df, err := b.openShard(shardIdx)
		if err != nil {
			return err
		}
		f, err := hdf5.OpenFile(sf.path, hdf5.F_ACC_RDONLY)
		if err != nil {
			return err
		}
		info, err := f.OpenGroup("TreeInfo")
		if err != nil {
			f.Close()
			return fmt.Errorf("%w: %s: no TreeInfo group: %w", arborerr.ErrHeaderMalformed, sf.path, err)
		}
		offsets, err := readInts(info, "TreeHalosOffset")
		if err != nil {
			info.Close()
			f.Close()
			return err
		}
		sizes, err := readInts(info, "TreeNhalos")
		info.Close()
		f.Close()
		if err != nil {
			return err
		}

		idCol, err := df.column("id")
		if err != nil {
			return err
		}
		for i, off := range offsets {
			if int(off) >= len(idCol) {
				return fmt.Errorf("%w: %s: tree offset %d out of range", arborerr.ErrHeaderMalformed, sf.path, off)
			}
			uid := int64(math.Round(idCol[off]))
			loc := datafile.Locator{FileID: shardIdx, Index: int(off)}
			b.roots = append(b.roots, datafile.RootDescriptor{UID: uid, Locator: loc})
			b.rootSize[loc] = sizes[i]
		}
	}
	dlog.Infof(ctx, "forestpack: mounted %d trees across %d shards", len(b.roots), len(b.shards))
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
	idCol, err := df.column("id")
	if err != nil {
		return nil, nil, nil, err
	}
	descCol, err := df.column("desc_id")
	if err != nil {
		return nil, nil, nil, err
	}

	start := root.Locator.Index
	end := start + int(size)
	if end > len(idCol) {
		return nil, nil, nil, fmt.Errorf("%w: tree block [%d,%d) exceeds shard size %d", arborerr.ErrHeaderMalformed, start, end, len(idCol))
	}

	uids := make([]int64, size)
	descUIDs := make([]int64, size)
	locs := make([]datafile.Locator, size)
	rootIdx := 0
	for j := start; j < end; j++ {
		i := j - start
		uids[i] = int64(math.Round(idCol[j]))
		descUIDs[i] = int64(math.Round(descCol[j]))
		locs[i] = datafile.Locator{FileID: root.Locator.FileID, Index: j}
		if uids[i] == root.UID {
			rootIdx = i
		}
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
