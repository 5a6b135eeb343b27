// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"fmt"

	"github.com/haloforest/arbor/lib/containers"
	"github.com/haloforest/arbor/lib/units"
)

// SaveSpec names what a save operation writes (§4.7 canonical writer
// inputs).
type SaveSpec struct {
	Stem          string
	Fields        []string // empty means every on-disk + analysis field
	MaxShardNodes int
	AnalysisOnly bool // write only the -analysis sidecar, skip bulk shards
}

// Writer is implemented by the canonical format package; Arbor depends
// only on this small interface so the core never imports a concrete
// on-disk writer (keeps format/canonical a leaf package wired in by
// whatever constructs both, avoiding an import cycle).
type Writer interface {
	// WriteShard persists one shard: its trees (in order), the
	// requested field data concatenated across those trees, and the
	// per-tree start/end/size index arrays for this shard's local
	// slice. shardIndex is 0-based and ascending across calls.
	WriteShard(ctx context.Context, spec SaveSpec, shardIndex int, data map[string]units.Array, treeStart, treeEnd, treeSize []int) error
	// WriteHeader writes the header file last, once every shard has
	// succeeded (§4.7 step 4, §7 "header written last"). headerProps is
	// the saving arbor's backend.HeaderProperties() (cosmology, box
	// size, and any other backend-declared scalars), carried through so
	// a reloaded canonical arbor reports the same values.
	WriteHeader(ctx context.Context, spec SaveSpec, totalTrees, totalNodes int, headerProps map[string]float64, rootFieldTable map[string]units.Array) error
}

// SaveArbor resolves trees to their roots, shards them by MaxShardNodes
// without ever splitting a tree, and drives w through the shard-then-
// header sequence (§4.7). Every node in trees is replaced by its tree's
// root (FindRoot) and roots are deduplicated by uid, so saving a non-root
// TreeNode writes the whole tree it belongs to, rooted at that tree's own
// root; the node is not promoted to a root of its own in the saved output.
// This mutates nothing about the live in-memory tree.
func (a *Arbor) SaveArbor(ctx context.Context, w Writer, spec SaveSpec, trees []*TreeNode) error {
	if spec.MaxShardNodes <= 0 {
		spec.MaxShardNodes = 1 << 20
	}
	if trees == nil {
		var err error
		trees, err = a.IterRoots(ctx, nil)
		if err != nil {
			return err
		}
	}

	seen := containers.Set[int64]{}
	var targets []*TreeNode
	for _, t := range trees {
		rootNode := t.FindRoot()
		if _, ok := seen[rootNode.uid]; ok {
			continue
		}
		seen[rootNode.uid] = struct{}{}
		targets = append(targets, rootNode)
	}

	fields := spec.Fields
	if len(fields) == 0 {
		fields = append(fields, a.Fields.Names()...)
	}

	type shard struct {
		trees []*TreeNode
		sizes []int
	}
	var shards []shard
	var cur shard
	curSize := 0
	for _, t := range targets {
		sz, err := t.TreeSize(ctx)
		if err != nil {
			return err
		}
		if curSize > 0 && curSize+sz > spec.MaxShardNodes {
			shards = append(shards, cur)
			cur = shard{}
			curSize = 0
		}
		cur.trees = append(cur.trees, t)
		cur.sizes = append(cur.sizes, sz)
		curSize += sz
	}
	if len(cur.trees) > 0 {
		shards = append(shards, cur)
	}

	rootFieldTable := make(map[string][]float64, len(fields))
	for _, f := range fields {
		rootFieldTable[f] = make([]float64, 0, len(targets))
	}
	totalNodes := 0

	for shardIdx, sh := range shards {
		data := make(map[string]units.Array, len(fields))
		treeStart := make([]int, len(sh.trees))
		treeEnd := make([]int, len(sh.trees))
		offset := 0
		for i := range sh.trees {
			treeStart[i] = offset
			offset += sh.sizes[i]
			treeEnd[i] = offset
		}

		for _, f := range fields {
			col := make([]float64, offset)
			for i, t := range sh.trees {
				vals, err := t.ScopeField(ctx, "tree", f, "")
				if err != nil {
					return fmt.Errorf("save: shard %d tree uid=%d field %q: %w", shardIdx, t.uid, f, err)
				}
				copy(col[treeStart[i]:treeEnd[i]], vals)
				rootFieldTable[f] = append(rootFieldTable[f], vals[0])
			}
			arr, err := units.NewArray(a.Units, col, fieldUnit(a, f))
			if err != nil {
				return err
			}
			data[f] = arr
		}

		if err := w.WriteShard(ctx, spec, shardIdx, data, treeStart, treeEnd, sh.sizes); err != nil {
			return fmt.Errorf("save: shard %d: %w", shardIdx, err)
		}
		totalNodes += offset
	}

	rootTable := make(map[string]units.Array, len(fields))
	for _, f := range fields {
		arr, err := units.NewArray(a.Units, rootFieldTable[f], fieldUnit(a, f))
		if err != nil {
			return err
		}
		rootTable[f] = arr
	}
	return w.WriteHeader(ctx, spec, len(targets), totalNodes, a.backend.HeaderProperties(), rootTable)
}

// fieldUnit looks up name's declared unit string, so saved columns stay
// tagged with their native unit instead of reverting to dimensionless
// (ScopeField above is called with toUnit="", i.e. native units).
func fieldUnit(a *Arbor, name string) string {
	desc, ok := a.Fields.Get(name)
	if !ok {
		return ""
	}
	return desc.Units
}

// SaveTree delegates to SaveArbor with this node as the sole seed (§4.6
// save_tree), which saves the whole tree rooted at n.FindRoot().
func (n *TreeNode) SaveTree(ctx context.Context, w Writer, spec SaveSpec) error {
	return n.arbor.SaveArbor(ctx, w, spec, []*TreeNode{n})
}
