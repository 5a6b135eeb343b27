// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package canonical

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
)

// headerDataFile is the singleton DataFile behind every FileID<0 locator:
// root-only field values that were already read entirely into memory when
// the header was opened, so a root fast-path field read never touches a
// shard file at all.
type headerDataFile struct {
	path  string
	props map[string]float64
	data  map[string][]float64
}

func (d *headerDataFile) Open(ctx context.Context) error  { return nil }
func (d *headerDataFile) Close() error                    { return nil }
func (d *headerDataFile) Name() string                    { return d.path }
func (d *headerDataFile) HeaderProperties() map[string]float64 { return d.props }

func (d *headerDataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		col, ok := d.data[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
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
				return nil, fmt.Errorf("%w: %q index %d out of range", arborerr.ErrHeaderMalformed, name, loc.Index)
			}
			vals[i] = col[loc.Index]
		}
		out[name] = vals
	}
	return out, nil
}

// shardDataFile mounts one shard file, reading requested field columns
// lazily and caching the decoded array per handle (the shard file's own
// data group is opened once and kept for the life of the backend).
type shardDataFile struct {
	path  string
	props map[string]float64

	mu        sync.Mutex
	f         *hdf5.File
	dataGroup *hdf5.Group
	cache     map[string][]float64
}

func openShardDataFile(path string, props map[string]float64) (*shardDataFile, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, path, err)
	}
	grp, err := f.OpenGroup("data")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: no data group: %w", arborerr.ErrHeaderMalformed, path, err)
	}
	return &shardDataFile{path: path, props: props, f: f, dataGroup: grp, cache: make(map[string][]float64)}, nil
}

func (d *shardDataFile) Open(ctx context.Context) error { return nil }

func (d *shardDataFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dataGroup != nil {
		d.dataGroup.Close()
		d.dataGroup = nil
	}
	if d.f != nil {
		err := d.f.Close()
		d.f = nil
		return err
	}
	return nil
}

func (d *shardDataFile) Name() string                        { return d.path }
func (d *shardDataFile) HeaderProperties() map[string]float64 { return d.props }

func (d *shardDataFile) column(name string) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if col, ok := d.cache[name]; ok {
		return col, nil
	}
	col, err := readFloats(d.dataGroup, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", arborerr.ErrFieldNotFound, name, err)
	}
	d.cache[name] = col
	return col, nil
}

func (d *shardDataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		col, err := d.column(name)
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
				return nil, fmt.Errorf("%w: %q index %d out of range", arborerr.ErrHeaderMalformed, name, loc.Index)
			}
			vals[i] = col[loc.Index]
		}
		out[name] = vals
	}
	return out, nil
}
