// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"fmt"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
)

// treeLoader fulfills field.Loader for a single tree's n=treeSize rows,
// reading on-disk columns through the node I/O loop grouped by the
// tree's (possibly several, for per-snapshot dialects) owning DataFiles.
type treeLoader struct {
	ctx  context.Context
	a    *Arbor
	root *root
}

func (l *treeLoader) ReadOnDisk(names []string, n int) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, nm := range names {
		out[nm] = make([]float64, n)
	}
	nodes := make([]*TreeNode, n)
	for i := 0; i < n; i++ {
		nodes[i] = &TreeNode{arbor: l.a, root: l.root, treeID: i, uid: l.root.uids[i]}
	}
	err := l.a.NodeIOLoop(l.ctx, nodes, func(ctx context.Context, df datafile.DataFile, node *TreeNode, idx int) error {
		loc := l.root.locs[node.treeID]
		vals, err := df.ReadFields(ctx, names, datafile.Selection{Locators: []datafile.Locator{loc}})
		if err != nil {
			return err
		}
		for _, nm := range names {
			col, ok := vals[nm]
			if !ok || len(col) != 1 {
				return fmt.Errorf("%w: backend returned %d values for %q at one locator, expected 1", arborerr.ErrHeaderMalformed, len(col), nm)
			}
			out[nm][idx] = col[0]
		}
		return nil
	})
	return out, err
}

func (l *treeLoader) ReadHeader(name string) (float64, error) {
	v, ok := l.a.backend.HeaderProperties()[name]
	if !ok {
		return 0, fmt.Errorf("%w: header field %q", arborerr.ErrHeaderMalformed, name)
	}
	return v, nil
}

func (l *treeLoader) ReadGenerated(name string, n int) ([]float64, error) {
	switch name {
	case "uid":
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(l.root.uids[i])
		}
		return out, nil
	case "desc_uid":
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(l.root.descUIDs[i])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
	}
}

func (l *treeLoader) AnalysisValues(name string, n int) ([]float64, bool) {
	raw, ok := l.root.analysisRaw[name]
	if !ok {
		return nil, false
	}
	return raw, true
}

// syncAnalysisRaw ensures root.analysisRaw[name] exists (defaulted, with
// index 0 mirroring the arbor-wide root value when one has been set) so
// that a later SetField on a non-root node has somewhere to write, and so
// that the root's own value stays authoritative after a resolve.
func (r *root) syncAnalysisRaw(name string, def float64) []float64 {
	if r.analysisRaw == nil {
		r.analysisRaw = make(map[string][]float64)
	}
	raw, ok := r.analysisRaw[name]
	if !ok {
		raw = make([]float64, r.treeSize())
		for i := range raw {
			raw[i] = def
		}
		r.analysisRaw[name] = raw
	}
	if rootVals, ok := r.arbor.analysisDefaults[name]; ok {
		raw[0] = rootVals[r.idx]
	}
	return raw
}

// rootFieldLoader fulfills field.Loader for the arbor-wide, one-row-per-
// root fast path (Arbor.Field): each "row" is a different root, possibly
// in a different DataFile entirely.
type rootFieldLoader struct {
	ctx   context.Context
	arbor *Arbor
	roots []*root
}

func (l *rootFieldLoader) ReadOnDisk(names []string, n int) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, nm := range names {
		out[nm] = make([]float64, n)
	}
	nodes := make([]*TreeNode, n)
	for i, r := range l.roots {
		nodes[i] = r.node()
	}
	err := l.arbor.NodeIOLoop(l.ctx, nodes, func(ctx context.Context, df datafile.DataFile, node *TreeNode, idx int) error {
		vals, err := df.ReadFields(ctx, names, datafile.Selection{Locators: []datafile.Locator{node.root.desc.Locator}})
		if err != nil {
			return err
		}
		for _, nm := range names {
			col, ok := vals[nm]
			if !ok || len(col) != 1 {
				return fmt.Errorf("%w: backend returned %d values for %q at one locator, expected 1", arborerr.ErrHeaderMalformed, len(col), nm)
			}
			out[nm][idx] = col[0]
		}
		return nil
	})
	return out, err
}

func (l *rootFieldLoader) ReadHeader(name string) (float64, error) {
	v, ok := l.arbor.backend.HeaderProperties()[name]
	if !ok {
		return 0, fmt.Errorf("%w: header field %q", arborerr.ErrHeaderMalformed, name)
	}
	return v, nil
}

func (l *rootFieldLoader) ReadGenerated(name string, n int) ([]float64, error) {
	switch name {
	case "uid":
		out := make([]float64, n)
		for i, r := range l.roots {
			out[i] = float64(r.desc.UID)
		}
		return out, nil
	case "desc_uid":
		out := make([]float64, n)
		for i := range out {
			out[i] = -1
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
	}
}

func (l *rootFieldLoader) AnalysisValues(name string, n int) ([]float64, bool) {
	vals, ok := l.arbor.analysisDefaults[name]
	if !ok {
		return nil, false
	}
	return vals, true
}
