// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatfwd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
)

// dataFile is one physical out_*.list file; its rows are parsed once,
// in full, and cached by column since every row is consulted at plant
// time regardless of which fields a later read asks for.
type dataFile struct {
	path string
	hdr  *header

	mu   sync.Mutex
	cols map[string][]float64
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

func (f *dataFile) rows() (map[string][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cols != nil {
		return f.cols, nil
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", arborerr.ErrDataFileMissing, f.path, err)
	}
	defer fh.Close()

	cols := make(map[string][]float64, len(f.hdr.fields))
	for _, name := range f.hdr.fields {
		cols[name] = nil
	}

	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		toks := strings.Fields(trimmed)
		for i, name := range f.hdr.fields {
			if i >= len(toks) {
				break
			}
			v, err := strconv.ParseFloat(toks[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: field %q: %w", arborerr.ErrHeaderMalformed, f.path, name, err)
			}
			cols[name] = append(cols[name], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	f.cols = cols
	return cols, nil
}

func (f *dataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	cols, err := f.rows()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]float64, len(names))
	for _, nm := range names {
		col, ok := cols[nm]
		if !ok {
			return nil, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, nm)
		}
		if sel.All {
			cp := make([]float64, len(col))
			copy(cp, col)
			out[nm] = cp
			continue
		}
		vals := make([]float64, len(sel.Locators))
		for i, loc := range sel.Locators {
			if loc.Index < 0 || loc.Index >= len(col) {
				return nil, fmt.Errorf("%w: row index %d out of range for %q", arborerr.ErrHeaderMalformed, loc.Index, nm)
			}
			vals[i] = col[loc.Index]
		}
		out[nm] = vals
	}
	return out, nil
}
