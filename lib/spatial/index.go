// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package spatial implements the optional bounding-volume index over a
// tree's halo positions that spec.md §4.3 names ("get_particle_positions")
// but leaves unspecified in structure. It reads three ordinary halo
// fields (caller-chosen x/y/z field names, since dialects disagree on
// what they're called) through the ordinary field-resolution path, so it
// needs no backend-specific particle data and works over any mounted
// arbor.
package spatial

import (
	"context"
	"fmt"

	"github.com/haloforest/arbor/lib/arbor"
	"github.com/haloforest/arbor/lib/containers"
)

type entry struct {
	node    *arbor.TreeNode
	x, y, z float64
}

type axisKey = containers.NativeOrdered[float64]

// Index is a lazily built, manually invalidated bounding-volume index
// over one tree's halo positions. Pruning happens along X via an
// interval tree (lib/containers.IntervalTree, kept from the teacher);
// Y/Z bounds are then applied as an exact linear filter over the pruned
// candidates. It is not rebuilt automatically: after calling
// (*arbor.TreeNode).ResetNode on the root this index was built from,
// call Invalidate before the next query.
type Index struct {
	node                    *arbor.TreeNode
	xField, yField, zField  string

	built   bool
	entries []entry
	byX     containers.IntervalTree[axisKey, entry]
}

// New returns an index over node's tree, reading position components
// from the named fields. The index is not built until the first query.
func New(node *arbor.TreeNode, xField, yField, zField string) *Index {
	return &Index{node: node, xField: xField, yField: yField, zField: zField}
}

// Invalidate marks the index stale. Call this after resetting the node
// it was built from; the next query rebuilds from scratch.
func (idx *Index) Invalidate() {
	idx.built = false
	idx.entries = nil
	idx.byX = containers.IntervalTree[axisKey, entry]{}
}

func (idx *Index) ensureBuilt(ctx context.Context) error {
	if idx.built {
		return nil
	}
	xs, err := idx.node.ScopeField(ctx, "tree", idx.xField, "")
	if err != nil {
		return err
	}
	ys, err := idx.node.ScopeField(ctx, "tree", idx.yField, "")
	if err != nil {
		return err
	}
	zs, err := idx.node.ScopeField(ctx, "tree", idx.zField, "")
	if err != nil {
		return err
	}
	n := len(xs)
	if len(ys) != n || len(zs) != n {
		return fmt.Errorf("spatial: position fields %q/%q/%q have mismatched lengths (%d/%d/%d)",
			idx.xField, idx.yField, idx.zField, len(xs), len(ys), len(zs))
	}

	idx.byX = containers.IntervalTree[axisKey, entry]{
		MinFn: func(e entry) axisKey { return axisKey{Val: e.x} },
		MaxFn: func(e entry) axisKey { return axisKey{Val: e.x} },
	}
	entries := make([]entry, n)
	for i := 0; i < n; i++ {
		node, err := idx.node.GetNode(ctx, "tree", i)
		if err != nil {
			return err
		}
		e := entry{node: node, x: xs[i], y: ys[i], z: zs[i]}
		entries[i] = e
		idx.byX.Insert(e)
	}
	idx.entries = entries
	idx.built = true
	return nil
}

func (idx *Index) queryBox(ctx context.Context, min, max [3]float64) ([]entry, error) {
	if err := idx.ensureBuilt(ctx); err != nil {
		return nil, err
	}
	candidates := idx.byX.SearchAll(func(k axisKey) int {
		switch {
		case k.Val < min[0]:
			return 1
		case k.Val > max[0]:
			return -1
		default:
			return 0
		}
	})
	out := make([]entry, 0, len(candidates))
	for _, e := range candidates {
		if e.y < min[1] || e.y > max[1] {
			continue
		}
		if e.z < min[2] || e.z > max[2] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// QueryBox returns every halo whose position falls within [min,max] on
// every axis, in no particular order.
func (idx *Index) QueryBox(ctx context.Context, min, max [3]float64) ([]*arbor.TreeNode, error) {
	entries, err := idx.queryBox(ctx, min, max)
	if err != nil {
		return nil, err
	}
	out := make([]*arbor.TreeNode, len(entries))
	for i, e := range entries {
		out[i] = e.node
	}
	return out, nil
}

// QueryRadius returns every halo within radius of center (Euclidean
// distance), pruning candidates with QueryBox's bounding cube before the
// exact distance test.
func (idx *Index) QueryRadius(ctx context.Context, center [3]float64, radius float64) ([]*arbor.TreeNode, error) {
	min := [3]float64{center[0] - radius, center[1] - radius, center[2] - radius}
	max := [3]float64{center[0] + radius, center[1] + radius, center[2] + radius}
	candidates, err := idx.queryBox(ctx, min, max)
	if err != nil {
		return nil, err
	}
	r2 := radius * radius
	var out []*arbor.TreeNode
	for _, e := range candidates {
		dx, dy, dz := e.x-center[0], e.y-center[1], e.z-center[2]
		if dx*dx+dy*dy+dz*dz <= r2 {
			out = append(out, e.node)
		}
	}
	return out, nil
}
