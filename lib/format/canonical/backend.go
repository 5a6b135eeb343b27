// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package canonical

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

func init() {
	datafile.Register("canonical", probe, construct)
}

// header is everything parsed out of a header file's meta/index/data
// groups at construct time; it is small (O(total_trees)) and kept
// entirely in memory so every root-level field read is O(1).
type header struct {
	stem       string
	props      map[string]float64
	fields     []field.Descriptor
	totalTrees int
	totalNodes int
	shards     int

	rootData map[string][]float64 // data group, one column per field, len==totalTrees

	treeStart       []int64
	treeEnd         []int64
	treeSize        []int64
	shardIndex      []int64
	shardLocalStart []int64
}

// Backend mounts one canonical header file plus whichever shard files its
// tree locators end up touching.
type Backend struct {
	hdr      *header
	headerDF *headerDataFile

	mu     sync.Mutex
	shards map[int]*shardDataFile
}

// probe recognizes a canonical header by its meta/arbor_type marker
// rather than by path shape, since the suffix is shared with shard and
// sidecar files that do not carry that marker.
func probe(path string, opts datafile.Options) (bool, error) {
	if !strings.HasSuffix(path, headerSuffix) {
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
	if err != nil || string(tag) != canonicalTag {
		return false, nil
	}
	// Analysis-only header sidecars carry the same tag but no index
	// group (§8 "sidecar-only re-save" mode); they mirror an existing
	// header's analysis columns and are not independently mountable.
	idx, err := f.OpenGroup("index")
	if err != nil {
		return false, nil
	}
	idx.Close()
	return true, nil
}

func construct(ctx context.Context, path string, opts datafile.Options) (datafile.Backend, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	defer f.Close()

	meta, err := f.OpenGroup("meta")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: no meta group: %w", arborerr.ErrHeaderMalformed, path, err)
	}
	defer meta.Close()

	props := make(map[string]float64)
	for _, name := range []string{"omega_matter", "omega_lambda", "hubble_constant", "box_size"} {
		if v, err := readScalarFloat(meta, name); err == nil {
			props[name] = v
		}
	}
	totalTrees64, err := readScalarInt(meta, "total_trees")
	if err != nil {
		return nil, err
	}
	totalNodes64, _ := readScalarInt(meta, "total_nodes")
	shards64, _ := readScalarInt(meta, "total_files")

	fieldsJSON, err := readBytes(meta, "fields_json")
	if err != nil {
		return nil, err
	}
	descs, err := decodeFieldInfo(fieldsJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: fields_json: %w", arborerr.ErrHeaderMalformed, path, err)
	}

	idx, err := f.OpenGroup("index")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: no index group (not a header file, or an analysis-only sidecar): %w", arborerr.ErrHeaderMalformed, path, err)
	}
	defer idx.Close()
	treeStart, err := readInts(idx, "tree_start_index")
	if err != nil {
		return nil, err
	}
	treeEnd, err := readInts(idx, "tree_end_index")
	if err != nil {
		return nil, err
	}
	treeSize, err := readInts(idx, "tree_size")
	if err != nil {
		return nil, err
	}
	shardIndex, err := readInts(idx, "shard_index")
	if err != nil {
		return nil, err
	}
	shardLocalStart, err := readInts(idx, "shard_local_start")
	if err != nil {
		return nil, err
	}

	dataGrp, err := f.OpenGroup("data")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: no data group: %w", arborerr.ErrHeaderMalformed, path, err)
	}
	defer dataGrp.Close()
	rootData := make(map[string][]float64, len(descs))
	for _, d := range descs {
		col, err := readFloats(dataGrp, d.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: field %q: %w", arborerr.ErrHeaderMalformed, path, d.Name, err)
		}
		rootData[d.Name] = col
	}

	stem := strings.TrimSuffix(path, headerSuffix)
	hdr := &header{
		stem:            stem,
		props:           props,
		fields:          descs,
		totalTrees:      int(totalTrees64),
		totalNodes:      int(totalNodes64),
		shards:          int(shards64),
		rootData:        rootData,
		treeStart:       treeStart,
		treeEnd:         treeEnd,
		treeSize:        treeSize,
		shardIndex:      shardIndex,
		shardLocalStart: shardLocalStart,
	}

	b := &Backend{
		hdr:      hdr,
		headerDF: &headerDataFile{path: path, props: props, data: rootData},
		shards:   make(map[int]*shardDataFile),
	}
	dlog.Infof(ctx, "canonical: %s: %d trees across %d shards", path, hdr.totalTrees, hdr.shards)
	return b, nil
}

func (b *Backend) HeaderProperties() map[string]float64 { return b.hdr.props }

func (b *Backend) FieldDescriptors() []field.Descriptor { return b.hdr.fields }

// EnumerateRoots builds one RootDescriptor per tree directly from the
// already-loaded root "uid" column; each root's Locator is the FileID<0
// sentinel that routes root-level field reads to the in-memory header
// data rather than opening any shard file.
func (b *Backend) EnumerateRoots(ctx context.Context) ([]datafile.RootDescriptor, error) {
	uids, ok := b.hdr.rootData["uid"]
	if !ok {
		return nil, fmt.Errorf("%w: canonical header has no uid column", arborerr.ErrHeaderMalformed)
	}
	out := make([]datafile.RootDescriptor, len(uids))
	for i, uid := range uids {
		out[i] = datafile.RootDescriptor{
			UID:     int64(uid),
			Locator: datafile.Locator{FileID: -1, Index: i},
		}
	}
	return out, nil
}

func (b *Backend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	if loc.FileID < 0 {
		return b.headerDF, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if df, ok := b.shards[loc.FileID]; ok {
		return df, nil
	}
	df, err := openShardDataFile(shardPath(b.hdr.stem, loc.FileID), b.hdr.props)
	if err != nil {
		return nil, err
	}
	b.shards[loc.FileID] = df
	return df, nil
}

// SetupTree locates root's global tree index in the precomputed
// shard_index/shard_local_start arrays, then reads that shard's own
// local "uid"/"desc_uid" columns over [start, start+size) — the
// write-time analogue of consistent_trees' byte-offset scan, except the
// shard and offset are looked up directly instead of re-scanning
// anything.
func (b *Backend) SetupTree(ctx context.Context, root datafile.RootDescriptor) ([]int64, []int64, []datafile.Locator, error) {
	globalIdx := root.Locator.Index
	if globalIdx < 0 || globalIdx >= b.hdr.totalTrees {
		return nil, nil, nil, fmt.Errorf("%w: tree index %d out of range", arborerr.ErrHeaderMalformed, globalIdx)
	}
	shardIdx := int(b.hdr.shardIndex[globalIdx])
	localStart := int(b.hdr.shardLocalStart[globalIdx])
	size := int(b.hdr.treeSize[globalIdx])

	df, err := b.OpenDataFile(ctx, datafile.Locator{FileID: shardIdx})
	if err != nil {
		return nil, nil, nil, err
	}
	sdf := df.(*shardDataFile)

	uidCol, err := sdf.column("uid")
	if err != nil {
		return nil, nil, nil, err
	}
	descCol, err := sdf.column("desc_uid")
	if err != nil {
		return nil, nil, nil, err
	}

	uids := make([]int64, size)
	descUIDs := make([]int64, size)
	locs := make([]datafile.Locator, size)
	for i := 0; i < size; i++ {
		pos := localStart + i
		uids[i] = int64(uidCol[pos])
		descUIDs[i] = int64(descCol[pos])
		locs[i] = datafile.Locator{FileID: shardIdx, Index: pos}
	}
	descUIDs[0] = -1
	return uids, descUIDs, locs, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, df := range b.shards {
		if err := df.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
