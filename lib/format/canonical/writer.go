// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package canonical

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/datawire/dlib/dlog"

	"github.com/haloforest/arbor/lib/arbor"
	"github.com/haloforest/arbor/lib/field"
	"github.com/haloforest/arbor/lib/units"
)

var _ arbor.Writer = (*Writer)(nil)

// Writer implements arbor.Writer against this package's sharded HDF5
// layout. A Writer accumulates the global tree index across successive
// WriteShard calls so that WriteHeader can emit the precomputed
// shard_index/shard_local_start lookup arrays (replacing a read-time
// bisect over shard boundaries with a write-time one).
type Writer struct {
	mu         sync.Mutex
	nodeOffset int64
	shards     int
	treeStart  []int64
	treeEnd    []int64
	treeSize   []int64
	shardIdx   []int64
	shardLoc   []int64
}

// WriteShard persists one shard file (or, in AnalysisOnly mode, one
// analysis sidecar) and folds its trees into the running global index.
func (w *Writer) WriteShard(ctx context.Context, spec arbor.SaveSpec, shardIndex int, data map[string]units.Array, treeStart, treeEnd, treeSize []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if shardIndex == 0 {
		w.nodeOffset = 0
		w.shards = 0
		w.treeStart = nil
		w.treeEnd = nil
		w.treeSize = nil
		w.shardIdx = nil
		w.shardLoc = nil
	}

	path := shardPath(spec.Stem, shardIndex)
	if spec.AnalysisOnly {
		path = analysisShardPath(spec.Stem, shardIndex)
	}

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("canonical: create shard %q: %w", path, err)
	}
	defer f.Close()

	idxGroup, err := f.CreateGroup("index")
	if err != nil {
		return err
	}
	defer idxGroup.Close()
	if err := writeInts(idxGroup, "tree_start_index", intsToInt64(treeStart)); err != nil {
		return err
	}
	if err := writeInts(idxGroup, "tree_end_index", intsToInt64(treeEnd)); err != nil {
		return err
	}
	if err := writeInts(idxGroup, "tree_size", intsToInt64(treeSize)); err != nil {
		return err
	}

	dataGroup, err := f.CreateGroup("data")
	if err != nil {
		return err
	}
	defer dataGroup.Close()
	for name, arr := range data {
		if err := writeFloats(dataGroup, name, arr.Values); err != nil {
			return fmt.Errorf("canonical: shard %d field %q: %w", shardIndex, name, err)
		}
	}

	for i := range treeStart {
		w.treeStart = append(w.treeStart, w.nodeOffset+int64(treeStart[i]))
		w.treeEnd = append(w.treeEnd, w.nodeOffset+int64(treeEnd[i]))
		w.treeSize = append(w.treeSize, int64(treeSize[i]))
		w.shardIdx = append(w.shardIdx, int64(shardIndex))
		w.shardLoc = append(w.shardLoc, int64(treeStart[i]))
	}
	if len(treeEnd) > 0 {
		w.nodeOffset += int64(treeEnd[len(treeEnd)-1])
	}
	w.shards = shardIndex + 1

	dlog.Infof(ctx, "canonical: wrote shard %q (%d trees)", path, len(treeStart))
	return nil
}

// WriteHeader writes the header (or analysis header sidecar) file last,
// once every shard has succeeded.
func (w *Writer) WriteHeader(ctx context.Context, spec arbor.SaveSpec, totalTrees, totalNodes int, headerProps map[string]float64, rootFieldTable map[string]units.Array) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := headerPath(spec.Stem)
	if spec.AnalysisOnly {
		path = analysisHeaderPath(spec.Stem)
	}

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("canonical: create header %q: %w", path, err)
	}
	defer f.Close()

	metaGroup, err := f.CreateGroup("meta")
	if err != nil {
		return err
	}
	defer metaGroup.Close()
	if err := writeBytes(metaGroup, "arbor_type", []byte(canonicalTag)); err != nil {
		return err
	}
	for name, v := range headerProps {
		if err := writeScalarFloat(metaGroup, name, v); err != nil {
			return err
		}
	}
	if err := writeScalarInt(metaGroup, "total_trees", int64(totalTrees)); err != nil {
		return err
	}
	if err := writeScalarInt(metaGroup, "total_nodes", int64(totalNodes)); err != nil {
		return err
	}
	if err := writeScalarInt(metaGroup, "total_files", int64(w.shards)); err != nil {
		return err
	}

	descs := make([]field.Descriptor, 0, len(rootFieldTable))
	for name, arr := range rootFieldTable {
		descs = append(descs, field.Descriptor{
			Name:  name,
			Units: arr.Unit.String(),
			Dtype: field.DtypeFloat64,
			Kind:  field.KindOnDisk,
		})
	}
	fieldsJSON, err := encodeFieldInfo(descs)
	if err != nil {
		return err
	}
	if err := writeBytes(metaGroup, "fields_json", fieldsJSON); err != nil {
		return err
	}

	dataGroup, err := f.CreateGroup("data")
	if err != nil {
		return err
	}
	defer dataGroup.Close()
	for name, arr := range rootFieldTable {
		if err := writeFloats(dataGroup, name, arr.Values); err != nil {
			return fmt.Errorf("canonical: header field %q: %w", name, err)
		}
	}

	if !spec.AnalysisOnly {
		idxGroup, err := f.CreateGroup("index")
		if err != nil {
			return err
		}
		defer idxGroup.Close()
		if err := writeInts(idxGroup, "tree_start_index", w.treeStart); err != nil {
			return err
		}
		if err := writeInts(idxGroup, "tree_end_index", w.treeEnd); err != nil {
			return err
		}
		if err := writeInts(idxGroup, "tree_size", w.treeSize); err != nil {
			return err
		}
		if err := writeInts(idxGroup, "shard_index", w.shardIdx); err != nil {
			return err
		}
		if err := writeInts(idxGroup, "shard_local_start", w.shardLoc); err != nil {
			return err
		}
	}

	dlog.Infof(ctx, "canonical: wrote header %q (%d trees, %d nodes, %d shards)", path, totalTrees, totalNodes, w.shards)
	return nil
}

func intsToInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
