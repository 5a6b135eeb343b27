// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package snapcatahf

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

// dataFile is one physical .AHF_halos file; redshift is this snapshot's
// own scalar (read from the sibling .parameter file at plant time) and
// is served per-row as a constant rather than a stored column.
type dataFile struct {
	path     string
	hdr      *header
	redshift float64
	props    map[string]float64

	mu   sync.Mutex
	cols map[string][]float64
}

func (f *dataFile) Open(ctx context.Context) error { return nil }
func (f *dataFile) Close() error                    { return nil }
func (f *dataFile) Name() string                    { return f.path }

func (f *dataFile) HeaderProperties() map[string]float64 { return f.props }

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
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "#") {
				continue
			}
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
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

	n := len(sel.Locators)
	out := make(map[string][]float64, len(names))
	for _, nm := range names {
		if nm == "redshift" {
			if sel.All {
				total := len(cols["ID"])
				vals := make([]float64, total)
				for i := range vals {
					vals[i] = f.redshift
				}
				out[nm] = vals
				continue
			}
			vals := make([]float64, n)
			for i := range vals {
				vals[i] = f.redshift
			}
			out[nm] = vals
			continue
		}
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
		vals := make([]float64, n)
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
