// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package forestpack

import (
	"context"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
)

// dataFile is one open shard's "Forests" group, serving whole-column
// reads lazily and caching each column the first time it is touched.
type dataFile struct {
	path  string
	props map[string]float64

	mu      sync.Mutex
	f       *hdf5.File
	forests *hdf5.Group
	cache   map[string][]float64
}

func (f *dataFile) Open(ctx context.Context) error  { return nil }
func (f *dataFile) Name() string                    { return f.path }
func (f *dataFile) HeaderProperties() map[string]float64 { return f.props }

func (f *dataFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forests != nil {
		f.forests.Close()
		f.forests = nil
	}
	if f.f != nil {
		err := f.f.Close()
		f.f = nil
		return err
	}
	return nil
}

func (f *dataFile) column(raw string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vals, ok := f.cache[raw]; ok {
		return vals, nil
	}
	vals, err := readFloats(f.forests, raw)
	if err != nil {
		return nil, err
	}
	f.cache[raw] = vals
	return vals, nil
}

func (f *dataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		col, err := f.column(sourceColumnName(name))
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
