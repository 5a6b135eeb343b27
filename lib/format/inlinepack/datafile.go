// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package inlinepack

import (
	"context"
	"math"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
)

// dataFile is one open shard's "TreeHalos" group. redshift is not a
// stored column; it is resolved per-row from this shard's "SnapNum"
// column indexed into the arbor-wide redshiftBySnap table, mirroring
// Gadget4FieldInfo's "_redshift" derived field.
type dataFile struct {
	path           string
	props          map[string]float64
	redshiftBySnap []float64

	mu        sync.Mutex
	f         *hdf5.File
	treeHalos *hdf5.Group
	cache     map[string][]float64
}

func (f *dataFile) Open(ctx context.Context) error      { return nil }
func (f *dataFile) Name() string                        { return f.path }
func (f *dataFile) HeaderProperties() map[string]float64 { return f.props }

func (f *dataFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.treeHalos != nil {
		f.treeHalos.Close()
		f.treeHalos = nil
	}
	if f.f != nil {
		err := f.f.Close()
		f.f = nil
		return err
	}
	return nil
}

func (f *dataFile) column(name string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vals, ok := f.cache[name]; ok {
		return vals, nil
	}
	vals, err := readFloats(f.treeHalos, name)
	if err != nil {
		return nil, err
	}
	f.cache[name] = vals
	return vals, nil
}

func (f *dataFile) redshiftAt(snapCol []float64, index int) float64 {
	if index < 0 || index >= len(snapCol) {
		return 0
	}
	snap := int(math.Round(snapCol[index]))
	if snap < 0 || snap >= len(f.redshiftBySnap) {
		return 0
	}
	return f.redshiftBySnap[snap]
}

func (f *dataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		if name == "redshift" {
			snapCol, err := f.column("SnapNum")
			if err != nil {
				return nil, err
			}
			if sel.All {
				vals := make([]float64, len(snapCol))
				for i := range snapCol {
					vals[i] = f.redshiftAt(snapCol, i)
				}
				out[name] = vals
				continue
			}
			vals := make([]float64, len(sel.Locators))
			for i, loc := range sel.Locators {
				vals[i] = f.redshiftAt(snapCol, loc.Index)
			}
			out[name] = vals
			continue
		}

		col, err := f.column(name)
		if err != nil {
			return nil, err
		}
		if sel.All {
			cp := make([]float64, len(col))
			copy(cp, col)
			out[name] = cp
			continue
		}
		vals := make([]float64, len(sel.Locators))
		for i, loc := range sel.Locators {
			if loc.Index < 0 || loc.Index >= len(col) {
				return nil, arborerr.ErrFieldNotFound
			}
			vals[i] = col[loc.Index]
		}
		out[name] = vals
	}
	return out, nil
}
