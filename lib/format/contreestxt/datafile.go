// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package contreestxt

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
)

// dataFile is the single tree_*.dat file every Locator in this dialect
// points into; every tree shares the same handle, since Consistent Trees
// never splits one catalog across files.
type dataFile struct {
	path string
	hdr  *header
}

func (f *dataFile) Open(ctx context.Context) error { return nil }
func (f *dataFile) Close() error                    { return nil }
func (f *dataFile) Name() string                    { return f.path }

func (f *dataFile) HeaderProperties() map[string]float64 {
	return map[string]float64{
		"omega_matter":    f.hdr.omegaMatter,
		"omega_lambda":    f.hdr.omegaLambda,
		"hubble_constant": f.hdr.hubbleConstant,
		"box_size":        f.hdr.boxSize,
	}
}

// ReadFields re-opens the file and reads, at each locator's byte offset,
// the single line holding that halo's row, pulling out whichever columns
// names asks for. There is no decoded-column cache here (unlike a
// struct-of-arrays dialect): a text row is cheap enough to re-split per
// call, and locators within one ReadFields batch are usually contiguous.
func (f *dataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	if sel.All {
		return nil, fmt.Errorf("%w: contreestxt requires explicit locators, not an All selection", arborerr.ErrHeaderMalformed)
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, f.path, err)
	}
	defer fh.Close()

	cols := make([]int, len(names))
	for i, nm := range names {
		col, ok := f.hdr.columnOf[sourceColumnName(nm)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, nm)
		}
		cols[i] = col
	}

	out := make(map[string][]float64, len(names))
	for _, nm := range names {
		out[nm] = make([]float64, len(sel.Locators))
	}

	r := bufio.NewReader(fh)
	for i, loc := range sel.Locators {
		if _, err := fh.Seek(loc.ByteOffset, 0); err != nil {
			return nil, err
		}
		r.Reset(fh)
		line, rerr := r.ReadString('\n')
		if rerr != nil && line == "" {
			return nil, fmt.Errorf("%w: short read at offset %d: %w", arborerr.ErrHeaderMalformed, loc.ByteOffset, rerr)
		}
		row := strings.Fields(strings.TrimRight(line, "\r\n"))
		for j, nm := range names {
			if cols[j] >= len(row) {
				return nil, fmt.Errorf("%w: row at offset %d has too few columns for %q", arborerr.ErrHeaderMalformed, loc.ByteOffset, nm)
			}
			v, err := strconv.ParseFloat(row[cols[j]], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q at offset %d: %w", arborerr.ErrHeaderMalformed, nm, loc.ByteOffset, err)
			}
			out[nm][i] = v
		}
	}
	return out, nil
}
